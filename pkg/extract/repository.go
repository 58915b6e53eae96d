package extract

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/logger"
	"github.com/cardflow-io/cardflow/pkg/metrics"
)

// Sink receives normalized output. Implementations live in pkg/sink.
type Sink interface {
	// UploadBatch delivers one batch of records for an item type.
	UploadBatch(ctx context.Context, itemType string, items []*NormalizedItem) error
	// UploadAttachment delivers one attachment body with its metadata.
	UploadAttachment(ctx context.Context, meta *NormalizedAttachment, body io.Reader) error
}

// Repository buffers normalized records per entity, deduplicates by ID
// and flushes to the sink when a buffer reaches the batch size. A
// failed flush leaves the buffer intact so the caller can halt without
// losing progress already acknowledged by the sink.
type Repository struct {
	sink      Sink
	batchSize int
	logger    *zap.Logger
	collector *metrics.Collector

	buffers map[Entity][]*NormalizedItem
	seen    map[Entity]map[string]struct{}
	skipped map[Entity]int
	pushed  map[Entity]int
}

// NewRepository creates a repository flushing to sink in batches of
// batchSize records.
func NewRepository(sink Sink, batchSize int, collector *metrics.Collector) *Repository {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Repository{
		sink:      sink,
		batchSize: batchSize,
		logger:    logger.Get().With(zap.String("component", "repository")),
		collector: collector,
		buffers:   map[Entity][]*NormalizedItem{},
		seen:      map[Entity]map[string]struct{}{},
		skipped:   map[Entity]int{},
		pushed:    map[Entity]int{},
	}
}

// Push buffers items for an entity, flushing full batches as they
// accumulate. Duplicate IDs within a run are dropped silently.
func (r *Repository) Push(ctx context.Context, entity Entity, items ...*NormalizedItem) error {
	seen := r.seen[entity]
	if seen == nil {
		seen = map[string]struct{}{}
		r.seen[entity] = seen
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			r.collector.Skipped(string(entity), "duplicate")
			continue
		}
		seen[item.ID] = struct{}{}
		r.buffers[entity] = append(r.buffers[entity], item)

		if len(r.buffers[entity]) >= r.batchSize {
			if err := r.flush(ctx, entity); err != nil {
				return err
			}
		}
	}
	return nil
}

// Skip records a normalization failure for an entity. Skipped records
// never reach the sink but are counted and surfaced in the checkpoint.
func (r *Repository) Skip(entity Entity, cause error) {
	r.skipped[entity]++
	r.collector.Skipped(string(entity), "normalization")
	r.logger.Warn("record skipped",
		zap.String("entity", string(entity)),
		zap.Error(cause))
}

// Collector exposes the run's metrics collector.
func (r *Repository) Collector() *metrics.Collector {
	return r.collector
}

// SkippedCount returns how many records were skipped for an entity.
func (r *Repository) SkippedCount(entity Entity) int {
	return r.skipped[entity]
}

// PushedCount returns how many records were flushed for an entity.
func (r *Repository) PushedCount(entity Entity) int {
	return r.pushed[entity]
}

// Upload flushes every remaining buffer.
func (r *Repository) Upload(ctx context.Context) error {
	for entity := range r.buffers {
		if err := r.flush(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// UploadEntity flushes the remaining buffer of one entity.
func (r *Repository) UploadEntity(ctx context.Context, entity Entity) error {
	return r.flush(ctx, entity)
}

func (r *Repository) flush(ctx context.Context, entity Entity) error {
	batch := r.buffers[entity]
	if len(batch) == 0 {
		return nil
	}
	if err := r.sink.UploadBatch(ctx, string(entity), batch); err != nil {
		r.collector.FlushFailed(string(entity))
		return errors.Wrap(err, errors.ErrorTypePush,
			"failed to push batch of "+string(entity))
	}
	r.collector.FlushSucceeded(string(entity))
	r.collector.Normalized(string(entity), len(batch))
	r.pushed[entity] += len(batch)
	r.buffers[entity] = nil
	r.logger.Debug("batch flushed",
		zap.String("entity", string(entity)),
		zap.Int("records", len(batch)))
	return nil
}
