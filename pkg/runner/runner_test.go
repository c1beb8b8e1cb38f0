package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/document"
	"github.com/lucilliform/lucilliform/pkg/publisher"
)

// fakeConnector publishes a fixed set of document ids and reports its
// invocation counts so tests can assert on lifecycle ordering.
type fakeConnector struct {
	name string
	ids  []string
	err  error

	preCalled, postCalled, closeCalled bool
}

func (c *fakeConnector) Name() string { return c.name }

func (c *fakeConnector) PreExecute(ctx context.Context, runID string) error {
	c.preCalled = true
	return nil
}

func (c *fakeConnector) Execute(ctx context.Context, pub *publisher.Publisher) error {
	if c.err != nil {
		return c.err
	}
	for _, id := range c.ids {
		doc, err := document.New(id)
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeConnector) PostExecute(ctx context.Context, runID string) error {
	c.postCalled = true
	return nil
}

func (c *fakeConnector) Close() error {
	c.closeCalled = true
	return nil
}

// newBulkServer returns an httptest server that answers every OpenSearch
// _bulk call with an empty, successful response: the opensearch adapter
// treats any item index beyond what the response names as a success.
func newBulkServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"errors":false,"items":[]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(connType, backendEndpoint string) *config.Config {
	return &config.Config{
		Runner: config.RunnerConfig{ConnectorTimeout: 2 * time.Second},
		Worker: config.WorkerConfig{Threads: 2},
		Indexer: config.IndexerConfig{
			BatchSize:    10,
			BatchTimeout: 50 * time.Millisecond,
			Backend: config.BackendConfig{
				Kind:     "opensearch",
				Endpoint: backendEndpoint,
				Index:    "test-index",
			},
		},
		Messenger: config.MessengerConfig{Kind: "memory"},
		Connectors: []config.ConnectorConfig{
			{Name: "c1", Type: connType, Pipeline: "p1"},
		},
	}
}

func TestRunnerSimplePassThrough(t *testing.T) {
	srv := newBulkServer(t)

	typeName := "fake-pass-through"
	fc := &fakeConnector{name: "c1", ids: []string{"d1"}}
	require.NoError(t, connector.Register(typeName, func(name string, options map[string]interface{}) (connector.Connector, error) {
		return fc, nil
	}))

	cfg := baseConfig(typeName, srv.URL)
	r := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := r.Run(ctx)
	assert.Equal(t, ExitSuccess, code)
	assert.True(t, fc.preCalled)
	assert.True(t, fc.postCalled)
	assert.True(t, fc.closeCalled)
	assert.NotEmpty(t, r.RunID())
}

func TestRunnerAbortsOnConnectorFailure(t *testing.T) {
	srv := newBulkServer(t)

	typeName := "fake-failing"
	fc := &fakeConnector{name: "c1", err: assertErr{}}
	require.NoError(t, connector.Register(typeName, func(name string, options map[string]interface{}) (connector.Connector, error) {
		return fc, nil
	}))

	cfg := baseConfig(typeName, srv.URL)
	r := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := r.Run(ctx)
	assert.Equal(t, ExitRunAborted, code)
}

func TestRunnerMultipleDocumentsAllReachTerminalState(t *testing.T) {
	srv := newBulkServer(t)

	typeName := "fake-multi"
	fc := &fakeConnector{name: "c1", ids: []string{"d1", "d2", "d3", "d4", "d5"}}
	require.NoError(t, connector.Register(typeName, func(name string, options map[string]interface{}) (connector.Connector, error) {
		return fc, nil
	}))

	cfg := baseConfig(typeName, srv.URL)
	r := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code := r.Run(ctx)
	assert.Equal(t, ExitSuccess, code)
}

type assertErr struct{}

func (assertErr) Error() string { return "connector exploded" }
