// Package worker implements the Worker loop: poll Source, run the pipeline,
// push results to Destination, and emit CREATE/FAIL events for children and
// stage failures respectively.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/metrics"
	"github.com/lucilliform/lucilliform/pkg/pipeline"
	"github.com/lucilliform/lucilliform/pkg/telemetry"
)

// descendantRegistrar is implemented by broker-backed messengers that need
// to know a child's parent before its CREATE event is sent, to keep offset
// commit bookkeeping accurate. The in-memory messenger has no use for it.
type descendantRegistrar interface {
	RegisterDescendant(parentID, childID string)
}

// Config controls a single Worker's poll timeout and run identity.
type Config struct {
	PollTimeout time.Duration
	RunID       string
}

// Worker runs pipeline.Process over documents polled from msn's Source
// queue, one document at a time, until Stop is called.
type Worker struct {
	id       string
	cfg      Config
	msn      messenger.Messenger
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	running  atomic.Bool
}

// New builds a Worker bound to one Messenger instance and Pipeline.
func New(id string, cfg Config, msn messenger.Messenger, p *pipeline.Pipeline) *Worker {
	return &Worker{
		id:       id,
		cfg:      cfg,
		msn:      msn,
		pipeline: p,
		logger:   logger.Get().With(zap.String("component", "worker"), zap.String("worker_id", id)),
	}
}

// Run executes the poll/process/send loop until ctx is canceled or Stop is
// called. Each iteration checks the running flag exactly once, per the
// cooperative-cancellation model: a document already in flight finishes
// before the loop observes a stop.
func (w *Worker) Run(ctx context.Context) {
	w.running.Store(true)
	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		doc, err := w.msn.PollDoc(ctx, w.cfg.PollTimeout)
		if err != nil {
			w.logger.Info("messenger poll ended, terminating gracefully", zap.Error(err))
			return
		}
		if doc == nil {
			continue // poll timeout, keep looping
		}

		w.processOne(ctx, doc)
	}
}

// Stop requests a graceful drain: the current document finishes, then Run
// returns on its next loop check.
func (w *Worker) Stop() {
	w.running.Store(false)
}

// processOne runs doc through the pipeline and dispatches results per the
// Worker contract: children are announced with CREATE before being sent to
// Destination (invariant W1), and a stage failure produces a FAIL event
// instead of a Destination send.
func (w *Worker) processOne(ctx context.Context, doc *document.Document) {
	ctx, span := telemetry.StartSpan(ctx, "worker", "processDocument")
	defer func() { telemetry.EndSpan(span, nil) }()

	timer := metrics.NewTimer()
	results, err := w.pipeline.Process(ctx, doc)
	metrics.PipelineLatency.WithLabelValues(w.pipeline.Name()).Observe(timer.Stop().Seconds())

	if err != nil {
		message := err.Error()
		if e, ok := err.(*errors.Error); ok {
			message = e.FirstLine()
		}
		if sendErr := w.msn.SendEvent(ctx, event.NewFail(doc.ID(), doc.RunID(), message)); sendErr != nil {
			w.logger.Error("failed to send FAIL event", zap.Error(sendErr))
		}
		metrics.DocumentsProcessed.WithLabelValues(w.pipeline.Name(), "fail").Inc()
		return
	}

	if registrar, ok := w.msn.(descendantRegistrar); ok {
		for _, r := range results {
			if r.ID() != doc.ID() {
				registrar.RegisterDescendant(doc.ID(), r.ID())
			}
		}
	}

	for _, r := range results {
		if r.ID() != doc.ID() {
			if err := w.msn.SendEvent(ctx, event.NewCreate(r.ID(), r.RunID())); err != nil {
				w.logger.Error("failed to send CREATE event", zap.Error(err))
				continue
			}
		}
		if err := w.msn.SendCompleted(ctx, r); err != nil {
			w.logger.Error("failed to send completed document", zap.String("document_id", r.ID()), zap.Error(err))
			continue
		}
	}
	metrics.DocumentsProcessed.WithLabelValues(w.pipeline.Name(), "success").Inc()
}
