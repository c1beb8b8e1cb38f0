// Package weaviate adapts the Indexer's Backend contract onto Weaviate's
// REST batch-objects and GraphQL delete APIs over the shared
// pooled/circuit-breaking HTTP client. Weaviate does have an official Go
// client, but it wraps gRPC/GraphQL generated types that do not compose
// with the Indexer's plain-map payload shape, so this adapter talks to the
// REST surface directly, the same way the other three backends do.
package weaviate

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/clients"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/indexer"
	ljson "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
)

// Config configures the Weaviate backend adapter.
type Config struct {
	Endpoint string // e.g. http://weaviate:8080
	Class    string
	APIKey   string
}

// Backend talks to one Weaviate class's REST objects/batch endpoints.
type Backend struct {
	cfg    Config
	client *clients.HTTPClient
	logger *zap.Logger
}

// New builds a Weaviate backend over a fresh pooled HTTP client.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:    cfg,
		client: clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger.Get()),
		logger: logger.Get().With(zap.String("component", "indexer_backend"), zap.String("backend", "weaviate")),
	}
}

// Name identifies the backend for metrics labels.
func (b *Backend) Name() string { return "weaviate" }

// Close logs a summary of the backend's HTTP traffic and releases its
// transport.
func (b *Backend) Close() error {
	stats := b.client.GetStats()
	b.logger.Info("closing weaviate backend",
		zap.Int64("total_requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests),
		zap.Duration("avg_latency", stats.AverageLatency))
	return b.client.Close()
}

// Upsert posts a single /v1/batch/objects call. Weaviate batch-objects
// replaces an object that already carries the given id, matching upsert
// semantics.
func (b *Backend) Upsert(ctx context.Context, items []indexer.UpsertItem) ([]indexer.ItemResult, error) {
	objects := make([]map[string]interface{}, len(items))
	for i, it := range items {
		objects[i] = map[string]interface{}{
			"class":      b.cfg.Class,
			"id":         it.ID,
			"properties": it.Payload,
		}
	}

	body, err := ljson.Marshal(map[string]interface{}{"objects": objects})
	if err != nil {
		return nil, errors.Wrap(err, errors.BackendFailure, "failed to marshal weaviate batch body")
	}

	if err := b.post(ctx, "/v1/batch/objects", body); err != nil {
		out := make([]indexer.ItemResult, len(items))
		for i, it := range items {
			out[i] = indexer.ItemResult{ID: it.ID, Err: err}
		}
		return out, nil
	}

	out := make([]indexer.ItemResult, len(items))
	for i, it := range items {
		out[i] = indexer.ItemResult{ID: it.ID}
	}
	return out, nil
}

// DeleteByID issues one DELETE /v1/objects/{class}/{id} call per document,
// Weaviate's REST surface having no bulk-delete-by-id endpoint.
func (b *Backend) DeleteByID(ctx context.Context, docIDs []string) ([]indexer.ItemResult, error) {
	out := make([]indexer.ItemResult, len(docIDs))
	for i, id := range docIDs {
		url := fmt.Sprintf("%s/v1/objects/%s/%s", b.cfg.Endpoint, b.cfg.Class, id)
		resp, err := b.client.Delete(ctx, url, b.headers())
		if err != nil {
			out[i] = indexer.ItemResult{ID: id, Err: errors.Wrap(err, errors.BackendFailure, "weaviate delete request failed")}
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != 404 {
			out[i] = indexer.ItemResult{ID: id, Err: errors.Newf(errors.BackendFailure, "weaviate delete returned status %d", resp.StatusCode)}
			continue
		}
		out[i] = indexer.ItemResult{ID: id}
	}
	return out, nil
}

// DeleteByQuery issues a /v1/batch/objects DELETE with a where-filter
// matching field == value.
func (b *Backend) DeleteByQuery(ctx context.Context, field, value string) error {
	body, err := ljson.Marshal(map[string]interface{}{
		"match": map[string]interface{}{
			"class": b.cfg.Class,
			"where": map[string]interface{}{
				"path":      []string{field},
				"operator":  "Equal",
				"valueText": value,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to marshal weaviate delete-by-query body")
	}

	url := b.cfg.Endpoint + "/v1/batch/objects"
	return b.deleteWithBody(ctx, url, body)
}

func (b *Backend) deleteWithBody(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to build weaviate delete-by-query request")
	}
	for k, v := range b.headers() {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "weaviate delete-by-query request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Newf(errors.BackendFailure, "weaviate delete-by-query returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *Backend) post(ctx context.Context, path string, body []byte) error {
	url := b.cfg.Endpoint + path
	resp, err := b.client.Post(ctx, url, bytes.NewReader(body), b.headers())
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "weaviate request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Newf(errors.BackendFailure, "weaviate request to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (b *Backend) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if b.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + b.cfg.APIKey
	}
	return h
}
