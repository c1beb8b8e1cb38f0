// Package factory builds concrete indexer.Backend implementations by
// kind. It lives outside pkg/indexer because the backend adapters import
// pkg/indexer for the Backend/UpsertItem/ItemResult types, and pkg/indexer
// constructing them directly would create an import cycle.
package factory

import (
	"fmt"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/indexer"
	"github.com/lucilliform/lucilliform/pkg/indexer/backend/opensearch"
	"github.com/lucilliform/lucilliform/pkg/indexer/backend/pinecone"
	"github.com/lucilliform/lucilliform/pkg/indexer/backend/solr"
	"github.com/lucilliform/lucilliform/pkg/indexer/backend/weaviate"
)

// NewBackend builds the concrete Backend named by cfg.Kind.
func NewBackend(cfg config.BackendConfig) (indexer.Backend, error) {
	switch cfg.Kind {
	case "opensearch":
		return opensearch.New(opensearch.Config{Endpoint: cfg.Endpoint, Index: cfg.Index, APIKey: cfg.APIKey}), nil
	case "solr":
		return solr.New(solr.Config{Endpoint: cfg.Endpoint, Collection: cfg.Index}), nil
	case "pinecone":
		return pinecone.New(pinecone.Config{Endpoint: cfg.Endpoint, APIKey: cfg.APIKey, Namespace: cfg.Index, VectorField: "embedding"}), nil
	case "weaviate":
		return weaviate.New(weaviate.Config{Endpoint: cfg.Endpoint, Class: cfg.Index, APIKey: cfg.APIKey}), nil
	default:
		return nil, fmt.Errorf("indexer: unsupported backend kind %q", cfg.Kind)
	}
}
