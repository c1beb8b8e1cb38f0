// Package pinecone adapts the Indexer's Backend contract onto Pinecone's
// REST data-plane API over the shared pooled/circuit-breaking HTTP client,
// since Pinecone's only first-party Go client targets the control plane and
// does not cover bulk upsert/delete. This adapter takes each document's
// embedding from the single configured vector field (Config.VectorField);
// no other float array is treated as a vector.
package pinecone

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

// Config configures the Pinecone backend adapter.
type Config struct {
	Endpoint      string // index-specific host, e.g. https://my-index-xxx.svc.region.pinecone.io
	APIKey        string
	Namespace     string
	VectorField   string // payload field carrying the embedding, e.g. "embedding"
}

// Backend talks to one Pinecone index's data-plane endpoints.
type Backend struct {
	cfg    Config
	client *clients.HTTPClient
	logger *zap.Logger
}

// New builds a Pinecone backend over a fresh pooled HTTP client.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:    cfg,
		client: clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger.Get()),
		logger: logger.Get().With(zap.String("component", "indexer_backend"), zap.String("backend", "pinecone")),
	}
}

// Name identifies the backend for metrics labels.
func (b *Backend) Name() string { return "pinecone" }

// Close logs a summary of the backend's HTTP traffic and releases its
// transport.
func (b *Backend) Close() error {
	stats := b.client.GetStats()
	b.logger.Info("closing pinecone backend",
		zap.Int64("total_requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests),
		zap.Duration("avg_latency", stats.AverageLatency))
	return b.client.Close()
}

// Upsert posts a single /vectors/upsert call carrying every item's vector
// (pulled from cfg.VectorField) and the remaining fields as metadata.
func (b *Backend) Upsert(ctx context.Context, items []indexer.UpsertItem) ([]indexer.ItemResult, error) {
	vectors := make([]map[string]interface{}, 0, len(items))
	skipped := make([]indexer.ItemResult, 0)

	for _, it := range items {
		vec, ok := extractVector(it.Payload, b.cfg.VectorField)
		if !ok {
			skipped = append(skipped, indexer.ItemResult{
				ID:  it.ID,
				Err: errors.Newf(errors.BackendFailure, "document %s has no usable vector in field %q", it.ID, b.cfg.VectorField),
			})
			continue
		}
		metadata := make(map[string]interface{}, len(it.Payload))
		for k, v := range it.Payload {
			if k != b.cfg.VectorField {
				metadata[k] = v
			}
		}
		vectors = append(vectors, map[string]interface{}{
			"id":       it.ID,
			"values":   vec,
			"metadata": metadata,
		})
	}

	if len(vectors) == 0 {
		return skipped, nil
	}

	body, err := ljson.Marshal(map[string]interface{}{
		"vectors":   vectors,
		"namespace": b.cfg.Namespace,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.BackendFailure, "failed to marshal pinecone upsert body")
	}

	if err := b.post(ctx, "/vectors/upsert", body); err != nil {
		out := make([]indexer.ItemResult, len(vectors))
		for i, v := range vectors {
			out[i] = indexer.ItemResult{ID: v["id"].(string), Err: err}
		}
		return append(out, skipped...), nil
	}

	out := make([]indexer.ItemResult, len(vectors))
	for i, v := range vectors {
		out[i] = indexer.ItemResult{ID: v["id"].(string)}
	}
	return append(out, skipped...), nil
}

// DeleteByID posts a single /vectors/delete call carrying the ids.
func (b *Backend) DeleteByID(ctx context.Context, docIDs []string) ([]indexer.ItemResult, error) {
	body, err := ljson.Marshal(map[string]interface{}{
		"ids":       docIDs,
		"namespace": b.cfg.Namespace,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.BackendFailure, "failed to marshal pinecone delete body")
	}

	out := make([]indexer.ItemResult, len(docIDs))
	deleteErr := b.post(ctx, "/vectors/delete", body)
	for i, id := range docIDs {
		out[i] = indexer.ItemResult{ID: id, Err: deleteErr}
	}
	return out, nil
}

// DeleteByQuery deletes every vector whose metadata matches field == value,
// using Pinecone's metadata-filter deletion. Pod-based indexes support
// this; serverless indexes do not, and return an error from the backend.
func (b *Backend) DeleteByQuery(ctx context.Context, field, value string) error {
	body, err := ljson.Marshal(map[string]interface{}{
		"filter":    map[string]interface{}{field: map[string]interface{}{"$eq": value}},
		"namespace": b.cfg.Namespace,
	})
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to marshal pinecone delete-by-query body")
	}
	return b.post(ctx, "/vectors/delete", body)
}

func (b *Backend) post(ctx context.Context, path string, body []byte) error {
	url := fmt.Sprintf("%s%s", b.cfg.Endpoint, path)
	resp, err := b.client.Post(ctx, url, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
		"Api-Key":      b.cfg.APIKey,
	})
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "pinecone request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf(errors.BackendFailure, "pinecone request to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func extractVector(payload map[string]interface{}, field string) ([]float64, bool) {
	raw, ok := payload[field]
	if !ok {
		return nil, false
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, v := range arr {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
