// Package jsonfile implements a source connector over a JSON array or
// line-delimited JSON (JSONL) file, one Document per element/line.
package jsonfile

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	jsonpool "github.com/lucilliform/lucilliform/pkg/json"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/pool"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("jsonfile", New)
}

// Format selects how the file is framed.
type Format string

const (
	// FormatArray is a single top-level JSON array of objects.
	FormatArray Format = "array"
	// FormatLines is line-delimited JSON (JSONL/NDJSON), the default.
	FormatLines Format = "lines"
)

// Config configures the jsonfile connector.
type Config struct {
	Path    string
	Format  Format
	IDField string
}

// Source reads one Document per JSON object from a file.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
}

// New builds a jsonfile Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{Format: FormatLines}
	if v, ok := options["path"].(string); ok {
		cfg.Path = v
	}
	if v, ok := options["format"].(string); ok && v != "" {
		cfg.Format = Format(v)
	}
	if v, ok := options["idField"].(string); ok {
		cfg.IDField = v
	}
	if cfg.Path == "" {
		return nil, errors.New(errors.ConfigViolation, "jsonfile connector requires a path option")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute is a no-op: a flat file has no target to prime.
func (s *Source) PreExecute(ctx context.Context, runID string) error { return nil }

// Execute reads the file and publishes one Document per record, in array
// or line-delimited form depending on configuration.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	file, err := os.Open(s.cfg.Path)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to open json file")
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)

	if s.cfg.Format == FormatArray {
		return s.readArray(ctx, reader, pub)
	}
	return s.readLines(ctx, reader, pub)
}

func (s *Source) readArray(ctx context.Context, r io.Reader, pub *publisher.Publisher) error {
	dec := jsonpool.GetDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to read json array start")
	}
	if delim, ok := tok.(interface{ String() string }); !ok || delim.String() != "[" {
		return errors.New(errors.ProcessingFailure, "json file does not start with an array")
	}

	seq := 0
	for dec.More() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var record map[string]interface{}
		if err := dec.Decode(&record); err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to decode json array element")
		}
		if err := s.publishRecord(ctx, pub, record, seq); err != nil {
			return err
		}
		seq++
	}
	return nil
}

func (s *Source) readLines(ctx context.Context, r io.Reader, pub *publisher.Publisher) error {
	scanner := bufio.NewScanner(r)
	buffer := pool.GlobalBufferPool.Get(64 * 1024)
	scanner.Buffer(buffer[:0], 1024*1024)

	seq := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record map[string]interface{}
		if err := jsonpool.Unmarshal(line, &record); err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to decode json line")
		}
		if err := s.publishRecord(ctx, pub, record, seq); err != nil {
			return err
		}
		seq++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to scan json file")
	}
	return nil
}

func (s *Source) publishRecord(ctx context.Context, pub *publisher.Publisher, record map[string]interface{}, seq int) error {
	id := s.resolveID(record, seq)
	doc, err := connector.DocumentFromRecord(id, record)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to build document from json record")
	}
	if err := pub.Publish(ctx, doc); err != nil {
		return errors.Wrap(err, errors.TransportFailure, "failed to publish json record")
	}
	return nil
}

func (s *Source) resolveID(record map[string]interface{}, seq int) string {
	if s.cfg.IDField != "" {
		if v, ok := record[s.cfg.IDField].(string); ok && v != "" {
			return v
		}
	}
	return pool.GenerateID(s.name) + "-" + strconv.Itoa(seq)
}

// PostExecute is a no-op: nothing to commit for a flat file source.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close is a no-op: Execute already closed the file.
func (s *Source) Close() error { return nil }
