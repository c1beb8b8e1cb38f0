// Package connector defines the lifecycle every data source implements to
// feed documents into a run, plus the registry that instantiates connectors
// by name from configuration. Reference connectors live in subpackages
// (csv, jsonfile, postgres, mysqlcdc, s3, gcs, kafkasource).
package connector

import (
	"context"

	"github.com/lucilliform/lucilliform/pkg/publisher"
)

// Connector is the single lifecycle every data source implements: unlike
// the teacher's Source/Destination split, a document-enrichment connector
// only ever originates documents, so one interface covers the whole
// lifecycle described in §4.7: preExecute primes the target system,
// execute reads records and calls publisher.Publish until exhausted or a
// fatal error, postExecute commits/cleans up, close releases resources.
// execute is expected to block until every source record is published or a
// fatal error is raised.
type Connector interface {
	// Name identifies the connector instance for logging and metrics.
	Name() string

	// PreExecute runs before Execute, for target-priming actions.
	PreExecute(ctx context.Context, runID string) error

	// Execute reads the external source and publishes documents until
	// exhausted or a fatal error occurs. It does not own pub and must not
	// close it.
	Execute(ctx context.Context, pub *publisher.Publisher) error

	// PostExecute runs after Execute returns successfully, for
	// commit/cleanup actions.
	PostExecute(ctx context.Context, runID string) error

	// Close releases connector resources. Idempotent.
	Close() error
}
