package extract

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/metrics"
)

// memorySink records everything it receives.
type memorySink struct {
	mu          sync.Mutex
	batches     map[string][][]*NormalizedItem
	attachments map[string][]byte
	failBatch   bool
	failUpload  bool
}

func newMemorySink() *memorySink {
	return &memorySink{
		batches:     map[string][][]*NormalizedItem{},
		attachments: map[string][]byte{},
	}
}

func (m *memorySink) UploadBatch(ctx context.Context, itemType string, items []*NormalizedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatch {
		return fmt.Errorf("sink unavailable")
	}
	batch := make([]*NormalizedItem, len(items))
	copy(batch, items)
	m.batches[itemType] = append(m.batches[itemType], batch)
	return nil
}

func (m *memorySink) UploadAttachment(ctx context.Context, meta *NormalizedAttachment, body io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload {
		return fmt.Errorf("sink unavailable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.attachments[meta.ID] = data
	return nil
}

func (m *memorySink) records(itemType string) []*NormalizedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*NormalizedItem
	for _, b := range m.batches[itemType] {
		out = append(out, b...)
	}
	return out
}

func item(id string) *NormalizedItem {
	return &NormalizedItem{ID: id, Data: map[string]interface{}{}}
}

func TestRepositoryFlushesAtThreshold(t *testing.T) {
	sink := newMemorySink()
	repo := NewRepository(sink, 3, metrics.NewCollector("test"))

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Push(context.Background(), EntityCards, item(fmt.Sprintf("c%d", i))))
	}

	// Two full batches flushed automatically, one partial pending.
	assert.Len(t, sink.batches["cards"], 2)
	assert.Len(t, sink.records("cards"), 6)

	require.NoError(t, repo.Upload(context.Background()))
	assert.Len(t, sink.records("cards"), 7)
	assert.Equal(t, 7, repo.PushedCount(EntityCards))
}

func TestRepositoryDedupsByID(t *testing.T) {
	sink := newMemorySink()
	repo := NewRepository(sink, 10, metrics.NewCollector("test"))

	require.NoError(t, repo.Push(context.Background(), EntityUsers, item("u1"), item("u2"), item("u1")))
	require.NoError(t, repo.Upload(context.Background()))

	assert.Len(t, sink.records("users"), 2)
}

func TestRepositoryEntitiesAreIndependent(t *testing.T) {
	sink := newMemorySink()
	repo := NewRepository(sink, 10, metrics.NewCollector("test"))

	require.NoError(t, repo.Push(context.Background(), EntityUsers, item("x1")))
	require.NoError(t, repo.Push(context.Background(), EntityCards, item("x1")))
	require.NoError(t, repo.Upload(context.Background()))

	assert.Len(t, sink.records("users"), 1)
	assert.Len(t, sink.records("cards"), 1)
}

func TestRepositoryFlushFailureIsPushError(t *testing.T) {
	sink := newMemorySink()
	sink.failBatch = true
	repo := NewRepository(sink, 2, metrics.NewCollector("test"))

	err := repo.Push(context.Background(), EntityCards, item("a"), item("b"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePush))

	// Buffer stays intact for a later retry.
	sink.failBatch = false
	require.NoError(t, repo.Upload(context.Background()))
	assert.Len(t, sink.records("cards"), 2)
}

func TestRepositorySkipCounting(t *testing.T) {
	repo := NewRepository(newMemorySink(), 10, metrics.NewCollector("test"))
	repo.Skip(EntityCards, errors.New(errors.ErrorTypeNormalization, "bad record"))
	repo.Skip(EntityCards, errors.New(errors.ErrorTypeNormalization, "bad record"))
	assert.Equal(t, 2, repo.SkippedCount(EntityCards))
	assert.Equal(t, 0, repo.SkippedCount(EntityUsers))
}
