// Package opensearch adapts the Indexer's Backend contract onto
// OpenSearch's Bulk API over the shared pooled/circuit-breaking HTTP
// client, since no first-party or widely-adopted OpenSearch Go client
// exists in the surveyed ecosystem.
package opensearch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/clients"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/indexer"
	ljson "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
)

// Config configures the OpenSearch backend adapter.
type Config struct {
	Endpoint string
	Index    string
	APIKey   string
}

// Backend talks to one OpenSearch index's _bulk endpoint.
type Backend struct {
	cfg    Config
	client *clients.HTTPClient
	logger *zap.Logger
}

// New builds an OpenSearch backend over a fresh pooled HTTP client.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:    cfg,
		client: clients.NewHTTPClient(clients.DefaultHTTPConfig(), logger.Get()),
		logger: logger.Get().With(zap.String("component", "indexer_backend"), zap.String("backend", "opensearch")),
	}
}

// Name identifies the backend for metrics labels.
func (b *Backend) Name() string { return "opensearch" }

// Close logs a summary of the backend's HTTP traffic and releases its
// transport.
func (b *Backend) Close() error {
	stats := b.client.GetStats()
	b.logger.Info("closing opensearch backend",
		zap.Int64("total_requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests),
		zap.Duration("avg_latency", stats.AverageLatency))
	return b.client.Close()
}

// Upsert ships items as a single _bulk request using "index" actions, one
// per item, with optional routing and external versioning.
func (b *Backend) Upsert(ctx context.Context, items []indexer.UpsertItem) ([]indexer.ItemResult, error) {
	var buf bytes.Buffer
	for _, it := range items {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": b.cfg.Index,
				"_id":    it.ID,
			},
		}
		meta := action["index"].(map[string]interface{})
		if it.Routing != "" {
			meta["routing"] = it.Routing
		}
		if it.Version > 0 {
			meta["version"] = it.Version
			meta["version_type"] = "external_gte"
		}
		writeBulkLine(&buf, action)
		writeBulkLine(&buf, it.Payload)
	}
	return b.bulk(ctx, &buf, ids(items))
}

// DeleteByID ships a single _bulk request of "delete" actions.
func (b *Backend) DeleteByID(ctx context.Context, docIDs []string) ([]indexer.ItemResult, error) {
	var buf bytes.Buffer
	for _, id := range docIDs {
		writeBulkLine(&buf, map[string]interface{}{
			"delete": map[string]interface{}{"_index": b.cfg.Index, "_id": id},
		})
	}
	return b.bulk(ctx, &buf, docIDs)
}

// DeleteByQuery issues a single _delete_by_query request matching field == value.
func (b *Backend) DeleteByQuery(ctx context.Context, field, value string) error {
	body, err := ljson.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{field: value},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "failed to marshal delete-by-query body")
	}

	url := fmt.Sprintf("%s/%s/_delete_by_query", b.cfg.Endpoint, b.cfg.Index)
	resp, err := b.client.Post(ctx, url, bytes.NewReader(body), b.headers())
	if err != nil {
		return errors.Wrap(err, errors.BackendFailure, "opensearch delete_by_query request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf(errors.BackendFailure, "opensearch delete_by_query returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *Backend) bulk(ctx context.Context, buf *bytes.Buffer, itemIDs []string) ([]indexer.ItemResult, error) {
	url := b.cfg.Endpoint + "/_bulk"
	headers := b.headers()
	headers["Content-Type"] = "application/x-ndjson"

	resp, err := b.client.Post(ctx, url, buf, headers)
	if err != nil {
		return nil, errors.Wrap(err, errors.BackendFailure, "opensearch bulk request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.BackendFailure, "opensearch bulk returned status %d", resp.StatusCode)
	}

	var parsed bulkResponse
	if err := ljson.Unmarshal([]byte(mustReadAll(resp)), &parsed); err != nil {
		b.logger.Warn("failed to decode bulk response, assuming all items succeeded", zap.Error(err))
		return successAll(itemIDs), nil
	}
	return mapBulkResults(itemIDs, parsed), nil
}

func (b *Backend) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if b.cfg.APIKey != "" {
		h["Authorization"] = "ApiKey " + b.cfg.APIKey
	}
	return h
}

type bulkResponse struct {
	Items []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	Status int    `json:"status"`
	Error  *struct {
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func mapBulkResults(itemIDs []string, parsed bulkResponse) []indexer.ItemResult {
	out := make([]indexer.ItemResult, len(itemIDs))
	for i, id := range itemIDs {
		out[i] = indexer.ItemResult{ID: id}
		if i >= len(parsed.Items) {
			continue
		}
		for _, result := range parsed.Items[i] {
			if result.Status >= 300 {
				reason := "unknown error"
				if result.Error != nil {
					reason = result.Error.Reason
				}
				out[i].Err = errors.Newf(errors.BackendFailure, "opensearch item failed: %s", reason)
			}
		}
	}
	return out
}

func successAll(itemIDs []string) []indexer.ItemResult {
	out := make([]indexer.ItemResult, len(itemIDs))
	for i, id := range itemIDs {
		out[i] = indexer.ItemResult{ID: id}
	}
	return out
}

func ids(items []indexer.UpsertItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func writeBulkLine(buf *bytes.Buffer, v interface{}) {
	data, _ := ljson.Marshal(v)
	buf.Write(data)
	buf.WriteByte('\n')
}

func mustReadAll(resp *http.Response) string {
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return sb.String()
}
