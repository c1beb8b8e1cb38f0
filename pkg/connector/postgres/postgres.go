// Package postgres implements a source connector over a PostgreSQL table
// or query, one Document per result row, using a pooled pgx connection.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/pool"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("postgres", New)
}

// Config configures the postgres connector.
type Config struct {
	ConnString string
	Table      string
	Query      string
	IDColumn   string
}

// Source streams rows from a PostgreSQL table or query as Documents.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// New builds a postgres Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{}
	if v, ok := options["connString"].(string); ok {
		cfg.ConnString = v
	}
	if v, ok := options["table"].(string); ok {
		cfg.Table = v
	}
	if v, ok := options["query"].(string); ok {
		cfg.Query = v
	}
	if v, ok := options["idColumn"].(string); ok {
		cfg.IDColumn = v
	}
	if cfg.ConnString == "" {
		return nil, errors.New(errors.ConfigViolation, "postgres connector requires a connString option")
	}
	if cfg.Table == "" && cfg.Query == "" {
		return nil, errors.New(errors.ConfigViolation, "postgres connector requires a table or query option")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute opens the connection pool and validates it with a ping.
func (s *Source) PreExecute(ctx context.Context, runID string) error {
	poolCfg, err := pgxpool.ParseConfig(s.cfg.ConnString)
	if err != nil {
		return errors.Wrap(err, errors.ConfigViolation, "failed to parse postgres connection string")
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to create postgres connection pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return errors.Wrap(err, errors.ProcessingFailure, "failed to ping postgres")
	}
	s.pool = p
	return nil
}

// Execute runs the configured query and publishes one Document per row.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	query := s.cfg.Query
	if query == "" {
		query = fmt.Sprintf("SELECT * FROM %s", pgx.Identifier{s.cfg.Table}.Sanitize())
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to execute postgres query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	seq := 0
	for rows.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		values, err := rows.Values()
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to read postgres row values")
		}

		record := make(map[string]interface{}, len(columns))
		for i, v := range values {
			if i < len(columns) {
				record[columns[i]] = v
			}
		}

		id := s.resolveID(record, seq)
		seq++

		doc, err := connector.DocumentFromRecord(id, record)
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "failed to build document from postgres row")
		}
		if err := pub.Publish(ctx, doc); err != nil {
			return errors.Wrap(err, errors.TransportFailure, "failed to publish postgres row")
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "error iterating postgres rows")
	}
	return nil
}

func (s *Source) resolveID(record map[string]interface{}, seq int) string {
	if s.cfg.IDColumn != "" {
		if v, ok := record[s.cfg.IDColumn]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s-%d", pool.GenerateID(s.name), seq)
}

// PostExecute is a no-op: the query already ran to completion.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close releases the connection pool.
func (s *Source) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
