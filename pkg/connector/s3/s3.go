// Package s3 implements a source connector that reads line-delimited JSON
// objects under an S3 bucket/prefix, one Document per line across every
// matching object.
package s3

import (
	"bufio"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	jsonpool "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/pool"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("s3", New)
}

// Config configures the s3 connector.
type Config struct {
	Region  string
	Bucket  string
	Prefix  string
	IDField string
}

// Source reads JSONL objects under a bucket/prefix as Documents.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
	client *s3.Client
}

// New builds an s3 Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{Region: "us-east-1"}
	if v, ok := options["region"].(string); ok && v != "" {
		cfg.Region = v
	}
	if v, ok := options["bucket"].(string); ok {
		cfg.Bucket = v
	}
	if v, ok := options["prefix"].(string); ok {
		cfg.Prefix = v
	}
	if v, ok := options["idField"].(string); ok {
		cfg.IDField = v
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ConfigViolation, "s3 connector requires a bucket option")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute loads AWS credentials and builds the S3 client.
func (s *Source) PreExecute(ctx context.Context, runID string) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return errors.Wrap(err, errors.ConfigViolation, "failed to load aws config")
	}
	s.client = s3.NewFromConfig(awsCfg)
	return nil
}

// Execute lists every object under the configured prefix and publishes
// one Document per JSON line across all of them.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})

	seq := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to list s3 objects")
		}
		for _, obj := range page.Contents {
			n, err := s.readObject(ctx, pub, *obj.Key, seq)
			if err != nil {
				return err
			}
			seq += n
		}
	}
	return nil
}

func (s *Source) readObject(ctx context.Context, pub *publisher.Publisher, key string, seq int) (int, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ProcessingFailure, "failed to fetch s3 object")
	}
	defer out.Body.Close()

	scanner := bufio.NewScanner(out.Body)
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
			return n, errors.Wrap(err, errors.ProcessingFailure, "failed to decode s3 object line")
		}

		id := s.resolveID(record, key, seq+n)
		doc, err := connector.DocumentFromRecord(id, record)
		if err != nil {
			return n, errors.Wrap(err, errors.ProcessingFailure, "failed to build document from s3 object")
		}
		if err := pub.Publish(ctx, doc); err != nil {
			return n, errors.Wrap(err, errors.TransportFailure, "failed to publish s3 record")
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, errors.ProcessingFailure, "failed to scan s3 object body")
	}
	return n, nil
}

func (s *Source) resolveID(record map[string]interface{}, key string, seq int) string {
	if s.cfg.IDField != "" {
		if v, ok := record[s.cfg.IDField].(string); ok && v != "" {
			return v
		}
	}
	return fmt.Sprintf("%s-%d", key, seq)
}

// PostExecute is a no-op: reads are not checkpointed across runs.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close is a no-op: the S3 client has no resources to release.
func (s *Source) Close() error { return nil }
