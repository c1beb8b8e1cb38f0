package worker

import (
	"context"
	"testing"
	"time"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fnStage struct {
	name string
	fn   func(ctx context.Context, doc *document.Document) ([]*document.Document, error)
}

func (s *fnStage) Name() string                    { return s.name }
func (s *fnStage) Start(ctx context.Context) error { return nil }
func (s *fnStage) Close() error                    { return nil }
func (s *fnStage) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	return s.fn(ctx, doc)
}

func TestWorkerSimplePassThrough(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()

	p := pipeline.New("p")
	w := New("w0", Config{PollTimeout: 50 * time.Millisecond, RunID: "r1"}, msn, p)

	doc, err := document.NewWithRunID("d1", "r1")
	require.NoError(t, err)
	require.NoError(t, msn.SendForProcessing(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go w.Run(ctx)

	got, err := msn.PollDestination(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID())
	w.Stop()
}

func TestWorkerEmitsCreateBeforeSendingChild(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()

	fanOut := &fnStage{name: "fanout", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		child, _ := document.NewWithRunID(doc.ID()+"-c1", doc.RunID())
		return []*document.Document{child}, nil
	}}
	p := pipeline.New("p", fanOut)
	w := New("w0", Config{PollTimeout: 50 * time.Millisecond}, msn, p)

	doc, err := document.NewWithRunID("d1", "r1")
	require.NoError(t, err)
	require.NoError(t, msn.SendForProcessing(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go w.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, event.Create, evt.Type)
	assert.Equal(t, "d1-c1", evt.DocumentID)

	w.Stop()
}

func TestWorkerEmitsFailOnStageError(t *testing.T) {
	msn := messenger.NewMemory(messenger.MemoryConfig{})
	defer msn.Close()

	boom := &fnStage{name: "boom", fn: func(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
		return nil, errors.New(errors.ProcessingFailure, "stage exploded")
	}}
	p := pipeline.New("p", boom)
	w := New("w0", Config{PollTimeout: 50 * time.Millisecond}, msn, p)

	doc, err := document.NewWithRunID("bad", "r1")
	require.NoError(t, err)
	require.NoError(t, msn.SendForProcessing(context.Background(), doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go w.Run(ctx)

	evt, err := msn.PollEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, event.Fail, evt.Type)
	assert.Equal(t, "bad", evt.DocumentID)

	w.Stop()
}
