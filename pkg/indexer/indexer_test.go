package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/messenger"
)

// fakeBackend records every call it receives for assertion.
type fakeBackend struct {
	mu            sync.Mutex
	upserted      []UpsertItem
	deletedByID   []string
	deletedQuery  []string // "field=value" pairs
	upsertErr     error
	deleteByIDErr error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Upsert(ctx context.Context, items []UpsertItem) ([]ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted = append(f.upserted, items...)
	out := make([]ItemResult, len(items))
	for i, it := range items {
		out[i] = ItemResult{ID: it.ID}
	}
	return out, nil
}

func (f *fakeBackend) DeleteByID(ctx context.Context, ids []string) ([]ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteByIDErr != nil {
		return nil, f.deleteByIDErr
	}
	f.deletedByID = append(f.deletedByID, ids...)
	out := make([]ItemResult, len(ids))
	for i, id := range ids {
		out[i] = ItemResult{ID: id}
	}
	return out, nil
}

func (f *fakeBackend) DeleteByQuery(ctx context.Context, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedQuery = append(f.deletedQuery, field+"="+value)
	return nil
}

func testConfig() config.IndexerConfig {
	return config.IndexerConfig{
		BatchSize:               10,
		BatchTimeout:            50 * time.Millisecond,
		DeletionMarkerField:     "is_deleted",
		DeletionMarkerFieldValue: "true",
		DeleteByFieldField:      "delete_query_field",
	}
}

func TestIndexerUpsertsPlainDocuments(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	backend := &fakeBackend{}
	ix := New(testConfig(), msn, backend, "r1")

	doc, err := document.NewWithRunID("d1", "r1")
	require.NoError(t, err)
	require.NoError(t, doc.Set("title", document.String("hello")))
	require.NoError(t, msn.SendCompleted(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ix.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, event.Finish, evt.Type)
	assert.Equal(t, "d1", evt.DocumentID)

	ix.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.upserted, 1)
	assert.Equal(t, "d1", backend.upserted[0].ID)
	assert.Equal(t, "hello", backend.upserted[0].Payload["title"])
}

func TestIndexerDeleteByIDForMarkedDocument(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	backend := &fakeBackend{}
	ix := New(testConfig(), msn, backend, "r1")

	doc, err := document.NewWithRunID("d2", "r1")
	require.NoError(t, err)
	require.NoError(t, doc.Set("is_deleted", document.String("true")))
	require.NoError(t, msn.SendCompleted(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ix.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, event.Finish, evt.Type)

	ix.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{"d2"}, backend.deletedByID)
	assert.Empty(t, backend.upserted)
}

func TestIndexerDeleteByQueryWhenFieldPresent(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	backend := &fakeBackend{}
	ix := New(testConfig(), msn, backend, "r1")

	doc, err := document.NewWithRunID("d3", "r1")
	require.NoError(t, err)
	require.NoError(t, doc.Set("is_deleted", document.String("true")))
	require.NoError(t, doc.Set("delete_query_field", document.String("batch-9")))
	require.NoError(t, msn.SendCompleted(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ix.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, event.Finish, evt.Type)

	ix.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{"delete_query_field=batch-9"}, backend.deletedQuery)
	assert.Empty(t, backend.deletedByID)
}

func TestIndexerLatestEventWinsWithinBatch(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	backend := &fakeBackend{}
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Second
	ix := New(cfg, msn, backend, "r1")

	first, err := document.NewWithRunID("d4", "r1")
	require.NoError(t, err)
	require.NoError(t, first.Set("title", document.String("v1")))
	require.NoError(t, msn.SendCompleted(context.Background(), first))

	second, err := document.NewWithRunID("d4", "r1")
	require.NoError(t, err)
	require.NoError(t, second.Set("is_deleted", document.String("true")))
	require.NoError(t, msn.SendCompleted(context.Background(), second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ix.Run(ctx)

	// Two documents share one batch of size 2, producing one terminal event.
	_, err = msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)

	ix.Stop()

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Empty(t, backend.upserted, "the later delete classification must win over the earlier upsert")
	assert.Equal(t, []string{"d4"}, backend.deletedByID)
}

func TestIndexerEmitsFailOnBackendError(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()
	backend := &fakeBackend{upsertErr: assertErr{}}
	ix := New(testConfig(), msn, backend, "r1")

	doc, err := document.NewWithRunID("d5", "r1")
	require.NoError(t, err)
	require.NoError(t, msn.SendCompleted(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go ix.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, event.Fail, evt.Type)
	assert.Equal(t, "d5", evt.DocumentID)

	ix.Stop()
}

type assertErr struct{}

func (assertErr) Error() string { return "backend exploded" }
