package extract

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/logger"
	"github.com/cardflow-io/cardflow/pkg/metrics"
	"github.com/cardflow-io/cardflow/pkg/trello"
)

// StreamResult is the per-attachment outcome. Err is set for failures
// that do not abort the phase; Throttled aborts so the caller can emit
// a delay.
type StreamResult struct {
	Attachment *NormalizedAttachment
	Err        error
	Throttled  *trello.RateLimitSignal
}

// Streamer copies attachment bodies from the external service into the
// sink. Bodies are fetched without transport compression so sizes
// stay comparable to the metadata.
type Streamer struct {
	client *trello.Client
	sink   Sink
	logger *zap.Logger
}

// NewStreamer creates a Streamer.
func NewStreamer(client *trello.Client, sink Sink) *Streamer {
	return &Streamer{
		client: client,
		sink:   sink,
		logger: logger.Get().With(zap.String("component", "streamer")),
	}
}

// Stream fetches one attachment and hands its body to the sink.
// Failures are isolated per attachment: the result carries the error
// and the caller decides whether enough of the run succeeded.
func (s *Streamer) Stream(ctx context.Context, att *NormalizedAttachment) StreamResult {
	res := StreamResult{Attachment: att}

	body, rl, err := s.fetch(ctx, att)
	if rl != nil && rl.Throttled {
		res.Throttled = rl
		return res
	}
	if err != nil {
		metrics.AttachmentsStreamed.WithLabelValues("failure").Inc()
		s.logger.Warn("attachment fetch failed",
			zap.String("attachment_id", att.ID),
			zap.String("parent_id", att.ParentID),
			zap.Error(err))
		res.Err = errors.Wrap(err, errors.ErrorTypeAttachment,
			"failed to fetch attachment "+att.ID)
		return res
	}
	defer body.Close()

	if err := s.sink.UploadAttachment(ctx, att, body); err != nil {
		metrics.AttachmentsStreamed.WithLabelValues("failure").Inc()
		s.logger.Warn("attachment upload failed",
			zap.String("attachment_id", att.ID),
			zap.Error(err))
		res.Err = errors.Wrap(err, errors.ErrorTypeAttachment,
			"failed to upload attachment "+att.ID)
		return res
	}

	metrics.AttachmentsStreamed.WithLabelValues("success").Inc()
	return res
}

func (s *Streamer) fetch(ctx context.Context, att *NormalizedAttachment) (io.ReadCloser, *trello.RateLimitSignal, error) {
	// Rewritten URLs point at the API host and need authenticated
	// download; anything else is a plain link attachment.
	if strings.HasPrefix(att.URL, s.client.BaseURL()) {
		return s.client.DownloadAttachment(ctx, att.ParentID, att.ID, att.FileName)
	}
	return s.client.DownloadExternal(ctx, att.URL)
}
