// Package csv implements a CSV file source connector: one Document per
// data row, fields taken from the header row, id synthesized from the
// configured id column or a generated sequence.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/pool"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("csv", New)
}

// Config configures the CSV connector.
type Config struct {
	Path     string
	HasHeader bool
	IDField   string // column to use as document id; empty means generated
}

// Source reads one Document per data row from a CSV file.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
}

// New builds a csv Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{HasHeader: true}
	if v, ok := options["path"].(string); ok {
		cfg.Path = v
	}
	if v, ok := options["hasHeader"].(bool); ok {
		cfg.HasHeader = v
	}
	if v, ok := options["idField"].(string); ok {
		cfg.IDField = v
	}
	if cfg.Path == "" {
		return nil, errors.New(errors.ConfigViolation, "csv connector requires a path option")
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

// Execute reads every row of the CSV file and publishes one Document per
// row, using the header row for field names.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	file, err := os.Open(s.cfg.Path)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to open csv file")
	}
	defer file.Close()

	reader := csv.NewReader(file)

	var headers []string
	if s.cfg.HasHeader {
		headers, err = reader.Read()
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to read csv header")
		}
	}

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to read csv row")
		}

		record := make(map[string]interface{}, len(row))
		for i, value := range row {
			name := fmt.Sprintf("column_%d", i)
			if headers != nil && i < len(headers) {
				name = headers[i]
			}
			record[name] = value
		}

		id := s.resolveID(record, seq)
		seq++

		doc, err := connector.DocumentFromRecord(id, record)
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to build document from csv row")
		}
		if err := pub.Publish(ctx, doc); err != nil {
			return errors.Wrap(err, errors.TransportFailure, "failed to publish csv row")
		}
	}
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
