// Package gcs implements a source connector that reads line-delimited
// JSON objects under a GCS bucket/prefix, one Document per line across
// every matching object.
package gcs

import (
	"bufio"
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	jsonpool "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/pool"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("gcs", New)
}

// Config configures the gcs connector.
type Config struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
	IDField         string
}

// Source reads JSONL objects under a bucket/prefix as Documents.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
	client *storage.Client
	bucket *storage.BucketHandle
}

// New builds a gcs Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{}
	if v, ok := options["bucket"].(string); ok {
		cfg.Bucket = v
	}
	if v, ok := options["prefix"].(string); ok {
		cfg.Prefix = v
	}
	if v, ok := options["credentialsFile"].(string); ok {
		cfg.CredentialsFile = v
	}
	if v, ok := options["idField"].(string); ok {
		cfg.IDField = v
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ConfigViolation, "gcs connector requires a bucket option")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute builds the GCS client and bucket handle.
func (s *Source) PreExecute(ctx context.Context, runID string) error {
	var opts []option.ClientOption
	if s.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, errors.ConfigViolation, "failed to create gcs client")
	}
	s.client = client
	s.bucket = client.Bucket(s.cfg.Bucket)
	return nil
}

// Execute lists every object under the configured prefix and publishes
// one Document per JSON line across all of them.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.cfg.Prefix})

	seq := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to list gcs objects")
		}

		n, err := s.readObject(ctx, pub, attrs.Name, seq)
		if err != nil {
			return err
		}
		seq += n
	}
}

func (s *Source) readObject(ctx context.Context, pub *publisher.Publisher, name string, seq int) (int, error) {
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ProcessingFailure, "failed to open gcs object")
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	buffer := pool.GlobalBufferPool.Get(64 * 1024)
	scanner.Buffer(buffer[:0], 1024*1024)

	n := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record map[string]interface{}
		if err := jsonpool.Unmarshal(line, &record); err != nil {
			return n, errors.Wrap(err, errors.ProcessingFailure, "failed to decode gcs object line")
		}

		id := s.resolveID(record, name, seq+n)
		doc, err := connector.DocumentFromRecord(id, record)
		if err != nil {
			return n, errors.Wrap(err, errors.ProcessingFailure, "failed to build document from gcs object")
		}
		if err := pub.Publish(ctx, doc); err != nil {
			return n, errors.Wrap(err, errors.TransportFailure, "failed to publish gcs record")
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, errors.ProcessingFailure, "failed to scan gcs object body")
	}
	return n, nil
}

func (s *Source) resolveID(record map[string]interface{}, name string, seq int) string {
	if s.cfg.IDField != "" {
		if v, ok := record[s.cfg.IDField].(string); ok && v != "" {
			return v
		}
	}
	return fmt.Sprintf("%s-%d", name, seq)
}

// PostExecute is a no-op: reads are not checkpointed across runs.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close releases the GCS client.
func (s *Source) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
