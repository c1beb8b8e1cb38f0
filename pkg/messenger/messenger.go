// Package messenger implements the three-queue, one-event-stream substrate
// that carries documents and completion events between the Publisher,
// Worker Pool, and Indexer. Two deployments share one interface: an
// in-memory bounded-queue implementation for single-process runs, and a
// Kafka-backed implementation for distributed runs.
package messenger

import (
	"context"
	"time"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/event"
)

// Messenger is the substrate contract shared by both deployments. All
// blocking operations honor ctx cancellation and the passed timeout;
// PollDoc/PollEvent return (nil, nil) on timeout, never an error.
type Messenger interface {
	// PollDoc retrieves the next document awaiting processing from Source.
	PollDoc(ctx context.Context, timeout time.Duration) (*document.Document, error)

	// SendForProcessing places doc on Source, blocking if the queue is at
	// capacity. This is the substrate's only backpressure point.
	SendForProcessing(ctx context.Context, doc *document.Document) error

	// SendCompleted places a processed doc on Destination for the Indexer.
	SendCompleted(ctx context.Context, doc *document.Document) error

	// PollDestination retrieves the next document awaiting indexing from
	// Destination. Consumed only by the Indexer.
	PollDestination(ctx context.Context, timeout time.Duration) (*document.Document, error)

	// SendEvent places evt on the Events stream.
	SendEvent(ctx context.Context, evt event.Event) error

	// PollEvent retrieves the next event from the Events stream.
	PollEvent(ctx context.Context, timeout time.Duration) (*event.Event, error)

	// HasEvents reports whether any event is currently buffered, used by
	// the Publisher's completion condition.
	HasEvents() bool

	// CommitPendingOffsets commits broker offsets whose documents (and all
	// children) have reached a terminal state. A no-op for the in-memory
	// deployment.
	CommitPendingOffsets(ctx context.Context) error

	// Close releases substrate resources. Idempotent.
	Close() error
}
