package indexer

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/event"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/metrics"
	"github.com/lucilliform/lucilliform/pkg/telemetry"
)

// Indexer drains Destination in batches bounded by size or timeout,
// classifies each document into upsert/delete-by-id/delete-by-query with
// latest-event-wins semantics, ships the three buckets to Backend in that
// order, emits one terminal event per document, and commits offsets once a
// batch is fully accounted for.
type Indexer struct {
	cfg     config.IndexerConfig
	msn     messenger.Messenger
	backend Backend
	runID   string
	logger  *zap.Logger
	running atomic.Bool
	version atomic.Int64
}

// New builds an Indexer bound to one Messenger instance and Backend.
func New(cfg config.IndexerConfig, msn messenger.Messenger, backend Backend, runID string) *Indexer {
	return &Indexer{
		cfg:     cfg,
		msn:     msn,
		backend: backend,
		runID:   runID,
		logger:  logger.Get().With(zap.String("component", "indexer"), zap.String("backend", backend.Name())),
	}
}

func (ix *Indexer) nextVersion() int64 {
	return ix.version.Add(1)
}

// Run accumulates batches from Destination and ships them until ctx is
// canceled or Stop is called. A batch closes either when it reaches
// cfg.BatchSize or when cfg.BatchTimeout elapses since the first document in
// the batch arrived, whichever comes first.
func (ix *Indexer) Run(ctx context.Context) {
	ix.running.Store(true)

	var batch []*document.Document
	var deadline <-chan time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ix.ship(ctx, batch)
		batch = nil
		deadline = nil
	}

	for ix.running.Load() {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-deadline:
			flush()
			continue
		default:
		}

		pollTimeout := 200 * time.Millisecond
		doc, err := ix.msn.PollDestination(ctx, pollTimeout)
		if err != nil {
			ix.logger.Info("messenger poll ended, terminating gracefully", zap.Error(err))
			flush()
			return
		}
		if doc == nil {
			select {
			case <-deadline:
				flush()
			default:
			}
			continue
		}

		if len(batch) == 0 {
			deadline = time.After(ix.cfg.BatchTimeout)
		}
		batch = append(batch, doc)
		if len(batch) >= ix.cfg.BatchSize {
			flush()
		}
	}
	flush()
}

// Stop requests a graceful drain: any in-flight batch ships, then Run
// returns on its next loop check.
func (ix *Indexer) Stop() {
	ix.running.Store(false)
}

// ship classifies a full batch, ships each bucket to the backend in
// upsert/delete-by-id/delete-by-query order, emits terminal events, and
// commits offsets once every document in the batch has an accounted outcome.
func (ix *Indexer) ship(ctx context.Context, batch []*document.Document) {
	ctx, span := telemetry.StartSpan(ctx, "indexer", "shipBatch", attribute.Int("batch_size", len(batch)))
	defer func() { telemetry.EndSpan(span, nil) }()

	metrics.IndexerBatchSize.WithLabelValues(ix.backend.Name()).Observe(float64(len(batch)))

	classifiedBatch := make([]classified, 0, len(batch))
	for _, doc := range batch {
		classifiedBatch = append(classifiedBatch, ix.classify(doc))
	}
	latest := latestWins(classifiedBatch)

	var upserts []UpsertItem
	var upsertDocs []*document.Document
	var deleteIDs []string
	var deleteIDDocs []*document.Document
	var deleteQueries []classified

	for _, c := range latest {
		switch c.action {
		case actionUpsert:
			upserts = append(upserts, ix.buildUpsertItem(c.doc))
			upsertDocs = append(upsertDocs, c.doc)
		case actionDeleteByID:
			id := c.doc.ID()
			deleteIDs = append(deleteIDs, id)
			deleteIDDocs = append(deleteIDDocs, c.doc)
		case actionDeleteByQuery:
			deleteQueries = append(deleteQueries, c)
		}
	}

	ix.runUpserts(ctx, upserts, upsertDocs)
	ix.runDeleteByID(ctx, deleteIDs, deleteIDDocs)
	ix.runDeleteByQuery(ctx, deleteQueries)

	if err := ix.msn.CommitPendingOffsets(ctx); err != nil {
		ix.logger.Error("failed to commit offsets after batch", zap.Error(err))
	}

	// Every document in the batch has an emitted terminal event and a
	// committed offset by this point; nothing downstream holds a reference.
	for _, doc := range batch {
		document.Release(doc)
	}
}

func (ix *Indexer) runUpserts(ctx context.Context, items []UpsertItem, docs []*document.Document) {
	if len(items) == 0 {
		return
	}
	timer := metrics.NewTimer()
	results, err := ix.backend.Upsert(ctx, items)
	metrics.IndexerBatchLatency.WithLabelValues(ix.backend.Name(), "upsert").Observe(timer.Stop().Seconds())

	if err != nil {
		for _, doc := range docs {
			ix.emitOutcome(ctx, doc, "upsert", errors.Wrap(err, errors.BackendFailure, "batch upsert failed"))
		}
		return
	}
	ix.emitResults(ctx, docs, results, "upsert")
}

func (ix *Indexer) runDeleteByID(ctx context.Context, ids []string, docs []*document.Document) {
	if len(ids) == 0 {
		return
	}
	timer := metrics.NewTimer()
	results, err := ix.backend.DeleteByID(ctx, ids)
	metrics.IndexerBatchLatency.WithLabelValues(ix.backend.Name(), "delete_by_id").Observe(timer.Stop().Seconds())

	if err != nil {
		for _, doc := range docs {
			ix.emitOutcome(ctx, doc, "delete_by_id", errors.Wrap(err, errors.BackendFailure, "batch delete-by-id failed"))
		}
		return
	}
	ix.emitResults(ctx, docs, results, "delete_by_id")
}

func (ix *Indexer) runDeleteByQuery(ctx context.Context, entries []classified) {
	if len(entries) == 0 {
		return
	}
	timer := metrics.NewTimer()
	for _, c := range entries {
		err := ix.backend.DeleteByQuery(ctx, c.deleteField, c.deleteValue)
		ix.emitOutcome(ctx, c.doc, "delete_by_query", wrapBackendErr(err))
	}
	metrics.IndexerBatchLatency.WithLabelValues(ix.backend.Name(), "delete_by_query").Observe(timer.Stop().Seconds())
}

func wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.BackendFailure, "delete-by-query failed")
}

// emitResults pairs positional backend results back to their documents.
// Adapters are contracted to return one ItemResult per item in call order.
func (ix *Indexer) emitResults(ctx context.Context, docs []*document.Document, results []ItemResult, op string) {
	for i, doc := range docs {
		var err error
		if i < len(results) && results[i].Err != nil {
			err = errors.Wrap(results[i].Err, errors.BackendFailure, "document indexing failed")
		}
		ix.emitOutcome(ctx, doc, op, err)
	}
}

func (ix *Indexer) emitOutcome(ctx context.Context, doc *document.Document, op string, err error) {
	var evt event.Event
	outcome := "success"
	if err != nil {
		outcome = "fail"
		message := err.Error()
		if e, ok := err.(*errors.Error); ok {
			message = e.FirstLine()
		}
		evt = event.NewFail(doc.ID(), doc.RunID(), message)
	} else {
		evt = event.NewFinish(doc.ID(), doc.RunID())
	}

	metrics.IndexerDocumentsTotal.WithLabelValues(op, outcome).Inc()

	if sendErr := ix.msn.SendEvent(ctx, evt); sendErr != nil {
		ix.logger.Error("failed to send terminal event", zap.String("document_id", doc.ID()), zap.Error(sendErr))
	}
}
