// Package indexer implements the batching consumer of the Destination
// queue: it classifies documents into upsert, delete-by-id, and
// delete-by-query buckets, ships them to a pluggable backend in that order, and
// emits FINISH/FAIL events per document.
package indexer

import "context"

// ItemResult reports a backend outcome for one document id.
type ItemResult struct {
	ID  string
	Err error
}

// UpsertItem carries one document's backend-ready payload plus the
// per-document indexing directives the Indexer resolved from configuration.
type UpsertItem struct {
	ID      string // the idOverride value when configured, otherwise doc.ID()
	Routing string
	Version int64
	Payload map[string]interface{}
}

// Backend is the contract every search/index adapter implements. Reference
// adapters live under pkg/indexer/backend/{opensearch,solr,pinecone,weaviate}
// and translate these calls into that backend's native bulk API.
type Backend interface {
	// Name identifies the backend for metrics labels.
	Name() string

	// Upsert writes or replaces items, returning one ItemResult per item in
	// the same order.
	Upsert(ctx context.Context, items []UpsertItem) ([]ItemResult, error)

	// DeleteByID removes documents by id, returning one ItemResult per id in
	// the same order.
	DeleteByID(ctx context.Context, ids []string) ([]ItemResult, error)

	// DeleteByQuery removes every document matching field == value. The
	// backend determines how many documents this affects; the Indexer
	// treats the whole batch-level call as a single outcome.
	DeleteByQuery(ctx context.Context, field, value string) error

	// Close releases the backend's transport resources. Called once by the
	// Runner during connector teardown.
	Close() error
}
