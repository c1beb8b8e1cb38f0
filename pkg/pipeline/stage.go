// Package pipeline implements the ordered, immutable chain of Stages that
// transforms one input Document into zero or more outputs.
package pipeline

import (
	"context"

	"github.com/lucilliform/lucilliform/pkg/document"
)

// Stage is a single stateless-with-respect-to-documents transformation.
// Configuration and pooled resources (an HTTP client, a compiled regex, a
// dictionary) are created in Start and released in Close.
type Stage interface {
	// Name identifies the stage for logging and metrics.
	Name() string

	// Start is invoked once before the stage processes any document. A
	// failure here is a config-violation and aborts the run.
	Start(ctx context.Context) error

	// ProcessDocument transforms doc. A nil result slice means "keep doc
	// as the sole output and continue"; a non-nil slice is the set of
	// additional documents the stage emits (children or replacements).
	ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error)

	// Close releases resources acquired in Start.
	Close() error
}

// Predicate decides whether a document should flow through a conditional
// stage. A false result skips the stage but lets the document continue.
type Predicate func(doc *document.Document) bool

// Conditional wraps a Stage so it only runs when pred(doc) is true.
type Conditional struct {
	Stage
	pred Predicate
}

// NewConditional decorates stage with pred. A nil pred makes the stage run
// unconditionally, which is equivalent to not wrapping it at all.
func NewConditional(stage Stage, pred Predicate) *Conditional {
	return &Conditional{Stage: stage, pred: pred}
}

// ProcessDocument skips the wrapped stage when pred(doc) is false, returning
// nil so doc flows through unchanged.
func (c *Conditional) ProcessDocument(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	if c.pred != nil && !c.pred(doc) {
		return nil, nil
	}
	return c.Stage.ProcessDocument(ctx, doc)
}
