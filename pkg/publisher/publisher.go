// Package publisher implements the per-run bookkeeper that assigns run-ids
// to documents on their way into the source queue, tracks outstanding work
// across child-document fan-out in an in-memory ledger, drains the event
// stream concurrently with publishing, and decides when a run is complete.
package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/metrics"
)

// Publisher originates document ids for one run, tracks outstanding work in
// a ledger, and decides run completion. One Publisher is bound to one
// connector's pipeline and one run-id.
type Publisher struct {
	msn          messenger.Messenger
	pipelineName string
	runID        string
	logger       *zap.Logger

	// mu guards ledger. The spec's shared-resource policy assumes a single
	// task touches the ledger; here Publish (called from the connector's
	// task) and the event-drain loop (this Publisher's own goroutine) are
	// two distinct goroutines, so a mutex is required for correctness.
	mu     sync.Mutex
	ledger map[string]int

	draining atomic.Bool
	drainWG  sync.WaitGroup
	stop     chan struct{}
}

// New builds a Publisher bound to one Messenger instance, pipeline name,
// and run-id.
func New(msn messenger.Messenger, pipelineName, runID string) *Publisher {
	return &Publisher{
		msn:          msn,
		pipelineName: pipelineName,
		runID:        runID,
		ledger:       make(map[string]int),
		stop:         make(chan struct{}),
		logger:       logger.Get().With(zap.String("component", "publisher"), zap.String("pipeline", pipelineName), zap.String("run_id", runID)),
	}
}

// Start launches the event-drain loop on its own goroutine.
func (p *Publisher) Start(ctx context.Context) {
	if !p.draining.CompareAndSwap(false, true) {
		return
	}
	p.drainWG.Add(1)
	go p.drainEvents(ctx)
}

// Publish assigns the run-id if doc does not already carry one, records one
// expected terminal event in the ledger, and hands doc to the source queue.
// The ledger entry is created before the send so a pathologically fast
// Worker/Indexer round-trip can never observe a FINISH for an id the
// ledger does not yet know about.
func (p *Publisher) Publish(ctx context.Context, doc *document.Document) error {
	if doc.RunID() == "" {
		if err := doc.SetRunID(p.runID); err != nil {
			return errors.Wrap(err, errors.ContractViolation, "failed to assign run-id")
		}
	}

	p.mu.Lock()
	p.ledger[doc.ID()] = 1
	outstanding := len(p.ledger)
	p.mu.Unlock()
	metrics.PublisherOutstanding.WithLabelValues(p.runID).Set(float64(outstanding))

	if err := p.msn.SendForProcessing(ctx, doc); err != nil {
		p.mu.Lock()
		delete(p.ledger, doc.ID())
		p.mu.Unlock()
		return errors.Wrap(err, errors.TransportFailure, "failed to publish document")
	}
	return nil
}

// drainEvents consumes the event stream until ctx is canceled or Stop is
// called, applying each event to the ledger.
func (p *Publisher) drainEvents(ctx context.Context) {
	defer p.drainWG.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		evt, err := p.msn.PollEvent(ctx, 200*time.Millisecond)
		if err != nil {
			p.logger.Info("messenger poll ended, stopping event drain", zap.Error(err))
			return
		}
		if evt == nil {
			continue
		}
		p.applyEvent(*evt)
	}
}

// applyEvent updates the ledger per §3's outstanding-document ledger rules:
// CREATE increments pending by 1 (inserting the id if absent); FINISH/FAIL
// decrement by 1 and remove the entry once pending reaches 0. An event with
// no ledger entry on the terminal path is logged and dropped, never thrown.
func (p *Publisher) applyEvent(evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case event.Create:
		p.ledger[evt.DocumentID]++
	case event.Finish, event.Fail:
		pending, ok := p.ledger[evt.DocumentID]
		if !ok {
			p.logger.Warn("dropping terminal event with no ledger entry",
				zap.String("document_id", evt.DocumentID), zap.String("type", string(evt.Type)))
			return
		}
		pending--
		if pending <= 0 {
			delete(p.ledger, evt.DocumentID)
		} else {
			p.ledger[evt.DocumentID] = pending
		}
	default:
		p.logger.Warn("dropping event of unknown type", zap.String("type", string(evt.Type)))
	}

	metrics.PublisherOutstanding.WithLabelValues(p.runID).Set(float64(len(p.ledger)))
}

func (p *Publisher) ledgerEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ledger) == 0
}

// WaitForCompletion blocks until the connector has finished (connectorDone
// receives exactly once) and the composite completion condition holds:
// connector_done ∧ ledger_empty ∧ ¬events.hasEvents(). It re-checks the
// ledger on each tick rather than only once, since events may still be in
// flight after the connector finishes. A connector error is returned
// immediately without waiting for drain to finish, since a connector
// failure aborts the run regardless of in-flight work.
func (p *Publisher) WaitForCompletion(ctx context.Context, connectorDone <-chan error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	doneCh := connectorDone
	var connectorErr error
	var connectorFinished bool

	for {
		select {
		case err := <-doneCh:
			connectorErr = err
			connectorFinished = true
			doneCh = nil // stop selecting a channel that already delivered
		case <-ticker.C:
		case <-ctx.Done():
			return errors.New(errors.Timeout, "timed out waiting for run completion")
		}

		if connectorFinished && connectorErr != nil {
			return errors.Wrap(connectorErr, errors.ProcessingFailure, "connector failed")
		}
		if connectorFinished && p.ledgerEmpty() && !p.msn.HasEvents() {
			return nil
		}
	}
}

// Close is idempotent: it stops the event-drain loop and releases the
// Publisher's own resources. The Messenger itself may be shared with the
// Worker Pool and Indexer, so closing it is the Runner's responsibility,
// not the Publisher's.
func (p *Publisher) Close() error {
	if !p.draining.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stop)
	p.drainWG.Wait()
	return nil
}
