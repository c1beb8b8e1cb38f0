// Package mysqlcdc implements a source connector that streams MySQL
// binary log row events for a set of tables, emitting one Document per
// changed row with a deletion marker set for DELETE events.
package mysqlcdc

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/schema"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/errors"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

func init() {
	_ = connector.Register("mysqlcdc", New)
}

// Config configures the mysqlcdc connector.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	Tables   []string
	ServerID uint32
	// DeletionField is set to true on a Document built from a DELETE row
	// event, matched against the indexer's configured deletion marker.
	DeletionField string
}

// Source streams binlog row changes from MySQL as Documents.
type Source struct {
	name   string
	cfg    Config
	logger *zap.Logger
	canal  *canal.Canal
}

// New builds a mysqlcdc Connector from declared options.
func New(name string, options map[string]interface{}) (connector.Connector, error) {
	cfg := Config{ServerID: 1001, Port: 3306, DeletionField: "_deleted"}
	if v, ok := options["host"].(string); ok {
		cfg.Host = v
	}
	if v, ok := options["port"].(float64); ok {
		cfg.Port = uint16(v)
	}
	if v, ok := options["user"].(string); ok {
		cfg.User = v
	}
	if v, ok := options["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := options["database"].(string); ok {
		cfg.Database = v
	}
	if v, ok := options["serverID"].(float64); ok {
		cfg.ServerID = uint32(v)
	}
	if v, ok := options["tables"].(string); ok && v != "" {
		for _, t := range strings.Split(v, ",") {
			cfg.Tables = append(cfg.Tables, strings.TrimSpace(t))
		}
	}
	if v, ok := options["deletionField"].(string); ok && v != "" {
		cfg.DeletionField = v
	}
	if cfg.Host == "" || cfg.Database == "" {
		return nil, errors.New(errors.ConfigViolation, "mysqlcdc connector requires host and database options")
	}
	return &Source{
		name:   name,
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "connector"), zap.String("connector", name)),
	}, nil
}

// Name identifies this connector instance.
func (s *Source) Name() string { return s.name }

// PreExecute opens a canal connection against the configured MySQL
// server, scoped to the configured database and tables.
func (s *Source) PreExecute(ctx context.Context, runID string) error {
	cfg := canal.NewDefaultConfig()
	cfg.Addr = fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	cfg.User = s.cfg.User
	cfg.Password = s.cfg.Password
	cfg.ServerID = s.cfg.ServerID
	cfg.Dump.ExecutionPath = ""
	cfg.IncludeTableRegex = tableRegexes(s.cfg.Database, s.cfg.Tables)

	c, err := canal.NewCanal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to create mysql binlog canal")
	}
	s.canal = c
	return nil
}

func tableRegexes(database string, tables []string) []string {
	if len(tables) == 0 {
		return []string{fmt.Sprintf("%s\\..*", database)}
	}
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = fmt.Sprintf("%s\\.%s", database, t)
	}
	return out
}

// Execute runs the canal event loop from the current master position,
// publishing one Document per row change until the context is canceled.
func (s *Source) Execute(ctx context.Context, pub *publisher.Publisher) error {
	handler := &rowHandler{ctx: ctx, pub: pub, logger: s.logger, deletionField: s.cfg.DeletionField}
	s.canal.SetEventHandler(handler)

	pos, err := s.canal.GetMasterPos()
	if err != nil {
		return errors.Wrap(err, errors.ProcessingFailure, "failed to read mysql master position")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.canal.RunFrom(pos)
	}()

	select {
	case <-ctx.Done():
		s.canal.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, errors.ProcessingFailure, "mysql binlog streaming failed")
		}
		return nil
	}
}

// PostExecute is a no-op: the binlog position is not persisted across runs.
func (s *Source) PostExecute(ctx context.Context, runID string) error { return nil }

// Close stops the canal connection. Idempotent.
func (s *Source) Close() error {
	if s.canal != nil {
		s.canal.Close()
	}
	return nil
}

// rowHandler adapts canal.RowsEventHandler to publish one Document per
// changed row, marking DELETE events with a reserved deletion field so
// the indexer routes them as deletes downstream.
type rowHandler struct {
	canal.DummyEventHandler
	ctx           context.Context
	pub           *publisher.Publisher
	logger        *zap.Logger
	deletionField string
}

func (h *rowHandler) OnRow(e *canal.RowsEvent) error {
	switch e.Action {
	case canal.InsertAction, canal.DeleteAction:
		for _, row := range e.Rows {
			if err := h.publishRow(e.Table, row, e.Action == canal.DeleteAction); err != nil {
				return err
			}
		}
	case canal.UpdateAction:
		// Update events carry before/after image pairs; publish each after-image.
		for i := 1; i < len(e.Rows); i += 2 {
			if err := h.publishRow(e.Table, e.Rows[i], false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *rowHandler) publishRow(table *schema.Table, row []interface{}, deleted bool) error {
	record := make(map[string]interface{}, len(table.Columns))
	var id string
	for i, col := range table.Columns {
		if i >= len(row) {
			continue
		}
		record[col.Name] = row[i]
		if isPrimaryKey(table, i) {
			id = fmt.Sprintf("%v", row[i])
		}
	}
	if id == "" {
		id = fmt.Sprintf("%s.%s-%v", table.Schema, table.Name, row)
	}

	doc, err := connector.DocumentFromRecord(id, record)
	if err != nil {
		return err
	}
	if deleted && h.deletionField != "" {
		if err := doc.Set(h.deletionField, document.Bool(true)); err != nil {
			return err
		}
	}
	return h.pub.Publish(h.ctx, doc)
}

func isPrimaryKey(table *schema.Table, columnIndex int) bool {
	for _, pk := range table.PKColumns {
		if pk == columnIndex {
			return true
		}
	}
	return false
}
