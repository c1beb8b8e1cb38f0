package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/metrics"
)

// MemoryConfig configures the in-memory deployment.
type MemoryConfig struct {
	// SourceCapacity bounds the Source queue; 0 means unbounded.
	SourceCapacity int
}

// Memory is the in-process Messenger: three Go channels standing in for
// Source, Destination, and Events. Source is the only channel whose
// capacity is configurable; Destination and Events use fixed 4096-slot
// buffers.
type Memory struct {
	source      chan *document.Document
	destination chan *document.Document
	events      chan event.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemory builds a Memory messenger. A SourceCapacity of 0 is treated as
// effectively unbounded by sizing the channel generously, since Go channels
// require a fixed buffer.
func NewMemory(cfg MemoryConfig) *Memory {
	capacity := cfg.SourceCapacity
	if capacity <= 0 {
		capacity = 1 << 20
	}
	return &Memory{
		source:      make(chan *document.Document, capacity),
		destination: make(chan *document.Document, 4096),
		events:      make(chan event.Event, 4096),
		closed:      make(chan struct{}),
	}
}

func (m *Memory) PollDoc(ctx context.Context, timeout time.Duration) (*document.Document, error) {
	metrics.QueueDepth.WithLabelValues("source").Set(float64(len(m.source)))
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case doc := <-m.source:
		return doc, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, nil
	}
}

func (m *Memory) SendForProcessing(ctx context.Context, doc *document.Document) error {
	select {
	case m.source <- doc:
		metrics.QueueDepth.WithLabelValues("source").Set(float64(len(m.source)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return errors.New(errors.TransportFailure, "messenger closed")
	}
}

func (m *Memory) SendCompleted(ctx context.Context, doc *document.Document) error {
	select {
	case m.destination <- doc:
		metrics.QueueDepth.WithLabelValues("destination").Set(float64(len(m.destination)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return errors.New(errors.TransportFailure, "messenger closed")
	}
}

func (m *Memory) SendEvent(ctx context.Context, evt event.Event) error {
	select {
	case m.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return errors.New(errors.TransportFailure, "messenger closed")
	}
}

func (m *Memory) PollEvent(ctx context.Context, timeout time.Duration) (*event.Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case evt := <-m.events:
		return &evt, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, nil
	}
}

func (m *Memory) HasEvents() bool {
	return len(m.events) > 0
}

// PollDestination retrieves the next document the Indexer should batch.
func (m *Memory) PollDestination(ctx context.Context, timeout time.Duration) (*document.Document, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case doc := <-m.destination:
		return doc, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, nil
	}
}

func (m *Memory) CommitPendingOffsets(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	return nil
}
