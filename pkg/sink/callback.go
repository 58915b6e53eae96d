package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"go.uber.org/zap"

	"github.com/cardflow-io/cardflow/pkg/clients"
	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/extract"
	jsonpkg "github.com/cardflow-io/cardflow/pkg/json"
	"github.com/cardflow-io/cardflow/pkg/logger"
)

// CallbackSink posts batches and attachment bodies to an orchestrator
// endpoint. Batches go to {base}/batches/{item_type} as JSON;
// attachments go to {base}/attachments as multipart with the metadata
// in a form field.
type CallbackSink struct {
	baseURL string
	token   string
	http    *clients.HTTPClient
	logger  *zap.Logger
}

// NewCallbackSink creates a sink posting to baseURL. token, when
// non-empty, is sent as a bearer token.
func NewCallbackSink(baseURL, token string, hc *clients.HTTPClient) *CallbackSink {
	lg := logger.Get().With(zap.String("component", "callback_sink"))
	if hc == nil {
		hc = clients.NewHTTPClient(clients.DefaultHTTPConfig(), lg)
	}
	return &CallbackSink{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
		logger:  lg,
	}
}

type batchPayload struct {
	ItemType string                    `json:"item_type"`
	Items    []*extract.NormalizedItem `json:"items"`
}

// UploadBatch posts one batch of records.
func (s *CallbackSink) UploadBatch(ctx context.Context, itemType string, items []*extract.NormalizedItem) error {
	data, err := jsonpkg.Marshal(batchPayload{ItemType: itemType, Items: items})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to encode batch")
	}

	headers := map[string]string{"Content-Type": "application/json"}
	s.auth(headers)

	resp, err := s.http.Post(ctx, s.baseURL+"/batches/"+itemType, bytes.NewReader(data), headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "batch callback failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.ErrorTypePush,
			"batch callback returned status %d", resp.StatusCode)
	}
	s.logger.Debug("batch delivered",
		zap.String("item_type", itemType),
		zap.Int("records", len(items)))
	return nil
}

// UploadAttachment posts the attachment body as multipart form data.
func (s *CallbackSink) UploadAttachment(ctx context.Context, meta *extract.NormalizedAttachment, body io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaJSON, err := jsonpkg.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to encode attachment metadata")
	}
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to write metadata field")
	}

	fileName := meta.FileName
	if fileName == "" {
		fileName = meta.ID
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to create file part")
	}
	if _, err := io.Copy(part, body); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to copy attachment body")
	}
	if err := mw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "failed to finalize multipart body")
	}

	headers := map[string]string{"Content-Type": mw.FormDataContentType()}
	s.auth(headers)

	resp, err := s.http.Post(ctx, s.baseURL+"/attachments", &buf, headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePush, "attachment callback failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf(errors.ErrorTypePush,
			"attachment callback returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *CallbackSink) auth(headers map[string]string) {
	if s.token != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", s.token)
	}
}
