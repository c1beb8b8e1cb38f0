// Package solr adapts the Indexer's Backend contract onto Apache Solr's
// JSON update handler over the shared pooled/circuit-breaking HTTP client,
// since no actively-maintained Solr Go client exists in the surveyed
// ecosystem.
package solr

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/clients"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/indexer"
	ljson "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
)

// Config configures the Solr backend adapter.
type Config struct {
	Endpoint   string // e.g. http://solr:8983/solr
	Collection string
}

// Backend talks to one Solr collection's /update handler.
type Backend struct {
	cfg    Config
	client *clients.HTTPClient
	logger *zap.Logger
}

// New builds a Solr backend over a fresh pooled HTTP client.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:    cfg,
		client: clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger.Get()),
		logger: logger.Get().With(zap.String("component", "indexer_backend"), zap.String("backend", "solr")),
	}
}

// Name identifies the backend for metrics labels.
func (b *Backend) Name() string { return "solr" }

// Close logs a summary of the backend's HTTP traffic and releases its
// transport.
func (b *Backend) Close() error {
	stats := b.client.GetStats()
	b.logger.Info("closing solr backend",
		zap.Int64("total_requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests),
		zap.Duration("avg_latency", stats.AverageLatency))
	return b.client.Close()
}

// Upsert posts the documents as a JSON array to /update, each carrying its
// resolved id in an "id" field. Solr treats add-with-existing-id as a
// replace, matching upsert semantics.
func (b *Backend) Upsert(ctx context.Context, items []indexer.UpsertItem) ([]indexer.ItemResult, error) {
	docs := make([]map[string]interface{}, len(items))
	for i, it := range items {
		doc := make(map[string]interface{}, len(it.Payload)+1)
		for k, v := range it.Payload {
			doc[k] = v
		}
		doc["id"] = it.ID
		if it.Version > 0 {
			doc["_version_"] = it.Version
		}
		docs[i] = doc
	}

	if err := b.update(ctx, docs); err != nil {
		return failAll(items, err), nil
	}
	return successAll(items), nil
}

// DeleteByID posts one delete command carrying every id in the batch: Solr's
// "delete" key accepts either a single id object or an array of ids.
func (b *Backend) DeleteByID(ctx context.Context, docIDs []string) ([]indexer.ItemResult, error) {
	ids := make([]interface{}, len(docIDs))
	for i, id := range docIDs {
		ids[i] = id
	}
	if err := b.updateRaw(ctx, []interface{}{map[string]interface{}{"delete": ids}}); err != nil {
		out := make([]indexer.ItemResult, len(docIDs))
		for i, id := range docIDs {
			out[i] = indexer.ItemResult{ID: id, Err: err}
		}
		return out, nil
	}
	out := make([]indexer.ItemResult, len(docIDs))
	for i, id := range docIDs {
		out[i] = indexer.ItemResult{ID: id}
	}
	return out, nil
}

// DeleteByQuery posts a delete-by-query command matching field:value.
func (b *Backend) DeleteByQuery(ctx context.Context, field, value string) error {
	query := fmt.Sprintf("%s:%q", field, value)
	return b.updateRaw(ctx, []interface{}{
		map[string]interface{}{"delete": map[string]interface{}{"query": query}},
	})
}

func (b *Backend) update(ctx context.Context, docs []map[string]interface{}) error {
	body, err := ljson.Marshal(docs)
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to marshal solr update body")
	}
	return b.post(ctx, body)
}

func (b *Backend) updateRaw(ctx context.Context, commands []interface{}) error {
	merged := make(map[string]interface{}, len(commands))
	for _, c := range commands {
		m := c.(map[string]interface{})
		for k, v := range m {
			merged[k] = v
		}
	}
	body, err := ljson.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to marshal solr command body")
	}
	return b.post(ctx, body)
}

func (b *Backend) post(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/%s/update?commit=true", b.cfg.Endpoint, b.cfg.Collection)
	resp, err := b.client.Post(ctx, url, bytes.NewReader(body), map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "solr update request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf(errors.BackendFailure, "solr update returned status %d", resp.StatusCode)
	}
	return nil
}

func successAll(items []indexer.UpsertItem) []indexer.ItemResult {
	out := make([]indexer.ItemResult, len(items))
	for i, it := range items {
		out[i] = indexer.ItemResult{ID: it.ID}
	}
	return out
}

func failAll(items []indexer.UpsertItem, err error) []indexer.ItemResult {
	out := make([]indexer.ItemResult, len(items))
	for i, it := range items {
		out[i] = indexer.ItemResult{ID: it.ID, Err: err}
	}
	return out
}
