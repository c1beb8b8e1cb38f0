// Package runner orchestrates one run: a fresh run-id, then the declared
// connectors executed in order, each wired to its own Messenger substrate,
// Worker Pool, Indexer, and Publisher. A connector failure aborts the run;
// subsequent connectors are skipped. Grounded on the four-party
// choreography of the source Runner (Connector thread, Worker Pool,
// Indexer, and the main thread driving the Publisher).
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/indexer"
	"github.com/lucilliform/lucilliform/pkg/indexer/factory"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/messenger"
	"github.com/lucilliform/lucilliform/pkg/metrics"
	"github.com/lucilliform/lucilliform/pkg/pipeline"
	"github.com/lucilliform/lucilliform/pkg/publisher"
	"github.com/lucilliform/lucilliform/pkg/worker"
)

// ExitCode mirrors §6's three outcomes for cmd/lucilliform.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitConfigError   ExitCode = 1
	ExitRunAborted    ExitCode = 2
)

// Runner manages a single run: the sequential execution of every declared
// connector. A Runner is not meant to be reused across runs.
type Runner struct {
	cfg    *config.Config
	runID  string
	logger *zap.Logger
}

// New generates a fresh run-id and builds a Runner bound to cfg.
func New(cfg *config.Config) *Runner {
	runID := uuid.NewString()
	return &Runner{
		cfg:   cfg,
		runID: runID,
		logger: logger.Get().With(zap.String("component", "runner"), zap.String("run_id", runID)),
	}
}

// RunID returns the UUID generated for this run.
func (r *Runner) RunID() string { return r.runID }

// Run executes every declared connector in order and returns the exit code
// the caller should report to the OS.
func (r *Runner) Run(ctx context.Context) ExitCode {
	start := time.Now()
	outcome := "success"
	defer func() {
		d := time.Since(start)
		metrics.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
		r.logger.Info("run complete", zap.Duration("duration", d), zap.String("outcome", outcome))
	}()

	for _, cc := range r.cfg.Connectors {
		ok, err := r.runConnector(ctx, cc)
		if err != nil {
			r.logger.Error("connector failed, aborting run",
				zap.String("connector", cc.Name), zap.Error(err))
			outcome = "aborted"
			return ExitRunAborted
		}
		if !ok {
			r.logger.Error("connector did not complete successfully, aborting run",
				zap.String("connector", cc.Name))
			outcome = "aborted"
			return ExitRunAborted
		}
	}
	return ExitSuccess
}

// runConnector runs a single declared connector end to end: build its
// Messenger, Worker Pool, Indexer, and Publisher; run preExecute, execute,
// waitForCompletion, postExecute; tear everything down. It returns whether
// the connector's documents all reached a terminal state.
func (r *Runner) runConnector(ctx context.Context, cc config.ConnectorConfig) (bool, error) {
	log := r.logger.With(zap.String("connector", cc.Name), zap.String("type", cc.Type))
	log.Info("running connector")

	connStart := time.Now()
	defer func() {
		metrics.ConnectorDuration.WithLabelValues(cc.Name).Observe(time.Since(connStart).Seconds())
	}()

	conn, err := connector.Create(cc.Type, cc.Name, cc.Options)
	if err != nil {
		return false, fmt.Errorf("runner: failed to create connector %q: %w", cc.Name, err)
	}
	defer conn.Close()

	msn, closeMsn, err := r.buildMessenger(ctx, cc.Pipeline)
	if err != nil {
		return false, fmt.Errorf("runner: failed to build messenger for %q: %w", cc.Name, err)
	}
	defer closeMsn()

	p := pipeline.New(cc.Pipeline)
	if err := p.Start(ctx); err != nil {
		return false, fmt.Errorf("runner: pipeline %q failed to start: %w", cc.Pipeline, err)
	}
	defer p.Close()

	workerCfg := worker.Config{PollTimeout: time.Second, RunID: r.runID}
	pool := worker.NewPool(r.cfg.Worker.Threads, workerCfg, msn, p)
	pool.Start(ctx)
	defer pool.Stop()

	backend, err := factory.NewBackend(r.cfg.Indexer.Backend)
	if err != nil {
		return false, fmt.Errorf("runner: failed to build index backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("index backend close failed", zap.Error(err))
		}
	}()
	ix := indexer.New(r.cfg.Indexer, msn, backend, r.runID)
	ixCtx, stopIndexer := context.WithCancel(ctx)
	go ix.Run(ixCtx)
	defer func() {
		ix.Stop()
		stopIndexer()
	}()

	pub := publisher.New(msn, cc.Pipeline, r.runID)
	pub.Start(ctx)
	defer pub.Close()

	if err := conn.PreExecute(ctx, r.runID); err != nil {
		return false, fmt.Errorf("runner: connector %q preExecute failed: %w", cc.Name, err)
	}

	connDone := make(chan error, 1)
	go func() {
		connDone <- conn.Execute(ctx, pub)
	}()

	completionErr := pub.WaitForCompletion(ctx, connDone, r.cfg.Runner.ConnectorTimeout)

	if err := conn.PostExecute(ctx, r.runID); err != nil {
		log.Error("connector postExecute failed", zap.Error(err))
	}

	if completionErr != nil {
		return false, completionErr
	}

	log.Info("connector complete", zap.Duration("duration", time.Since(connStart)))
	return true, nil
}

// buildMessenger returns a Messenger scoped to one pipeline, plus a close
// function the caller must defer.
func (r *Runner) buildMessenger(ctx context.Context, pipelineName string) (messenger.Messenger, func(), error) {
	switch r.cfg.Messenger.Kind {
	case "kafka":
		msn, err := messenger.NewKafka(ctx, r.cfg.Messenger.Kafka, pipelineName, r.runID)
		if err != nil {
			return nil, nil, err
		}
		return msn, func() { _ = msn.Close() }, nil
	default:
		msn := messenger.NewMemory(messenger.MemoryConfig{SourceCapacity: r.cfg.Worker.QueueCapacity})
		return msn, func() { _ = msn.Close() }, nil
	}
}
