// Package sink provides destinations for normalized extraction output:
// line-delimited JSON files for local runs and an HTTP callback for an
// orchestrator.
package sink

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/extract"
	jsonpkg "github.com/cardflow-io/cardflow/pkg/json"
	"github.com/cardflow-io/cardflow/pkg/logger"
)

// JSONLSink writes each item type to its own line-delimited JSON file
// under a base directory. Attachment bodies are stored as plain files
// next to a metadata index.
type JSONLSink struct {
	dir        string
	bufferSize int
	logger     *zap.Logger

	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*bufio.Writer
}

// NewJSONLSink creates a sink rooted at dir, creating it when absent.
func NewJSONLSink(dir string, bufferSize int) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig,
			"failed to create output directory")
	}
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &JSONLSink{
		dir:        dir,
		bufferSize: bufferSize,
		logger:     logger.Get().With(zap.String("component", "jsonl_sink")),
		files:      map[string]*os.File{},
		writers:    map[string]*bufio.Writer{},
	}, nil
}

// UploadBatch appends one JSON line per record to the item type's file.
func (s *JSONLSink) UploadBatch(ctx context.Context, itemType string, items []*extract.NormalizedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.writer(itemType)
	if err != nil {
		return err
	}
	enc := jsonpkg.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return errors.Wrap(err, errors.ErrorTypePush,
				"failed to encode record "+item.ID)
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to flush "+itemType)
	}
	s.logger.Debug("batch written",
		zap.String("item_type", itemType),
		zap.Int("records", len(items)))
	return nil
}

// UploadAttachment stores the body under attachments/<id>_<filename>
// and appends the metadata to the attachment index.
func (s *JSONLSink) UploadAttachment(ctx context.Context, meta *extract.NormalizedAttachment, body io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attDir := filepath.Join(s.dir, "attachments")
	if err := os.MkdirAll(attDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to create attachments directory")
	}

	name := meta.ID
	if meta.FileName != "" {
		name += "_" + filepath.Base(meta.FileName)
	}
	f, err := os.Create(filepath.Join(attDir, name))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to create attachment file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypePush, "failed to write attachment body")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to close attachment file")
	}

	w, err := s.writer("attachment_index")
	if err != nil {
		return err
	}
	if err := jsonpkg.NewEncoder(w).Encode(meta); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to encode attachment metadata")
	}
	return w.Flush()
}

// Close flushes and closes every open file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for itemType, w := range s.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypePush, "failed to flush "+itemType)
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = map[string]*os.File{}
	s.writers = map[string]*bufio.Writer{}
	return firstErr
}

func (s *JSONLSink) writer(itemType string) (*bufio.Writer, error) {
	if w, ok := s.writers[itemType]; ok {
		return w, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, itemType+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePush,
			"failed to open output file for "+itemType)
	}
	w := bufio.NewWriterSize(f, s.bufferSize)
	s.files[itemType] = f
	s.writers[itemType] = w
	return w, nil
}
