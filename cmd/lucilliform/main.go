package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucilliform/lucilliform/pkg/config"
	"github.com/lucilliform/lucilliform/pkg/connector"
	"github.com/lucilliform/lucilliform/pkg/logger"
	"github.com/lucilliform/lucilliform/pkg/runner"
	"github.com/lucilliform/lucilliform/pkg/telemetry"

	// Import every reference connector for its registering init().
	_ "github.com/lucilliform/lucilliform/pkg/connector/csv"
	_ "github.com/lucilliform/lucilliform/pkg/connector/gcs"
	_ "github.com/lucilliform/lucilliform/pkg/connector/jsonfile"
	_ "github.com/lucilliform/lucilliform/pkg/connector/kafkasource"
	_ "github.com/lucilliform/lucilliform/pkg/connector/mysqlcdc"
	_ "github.com/lucilliform/lucilliform/pkg/connector/postgres"
	_ "github.com/lucilliform/lucilliform/pkg/connector/s3"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load() // ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "lucilliform",
		Short: "lucilliform - distributed document enrichment and indexing pipeline",
		Long: `lucilliform pulls records from heterogeneous sources, routes each record
through an ordered chain of stateless transformation stages, and delivers the
enriched documents to one or more search/index backends.`,
	}

	root.AddCommand(versionCmd())
	root.AddCommand(listCmd())
	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lucilliform v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available connector types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available connector types:")
			for _, name := range connector.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	}
}

func runCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a run: every declared connector, in order",
		Long: `run loads the declared connectors from a config file and executes them
sequentially under one run-id. Each connector's work is fully acknowledged
(indexed or failed) before the next connector begins.

Example:
  lucilliform run --config run.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to run configuration YAML file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func validateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a run configuration and check it for internal consistency",
		Long: `validate parses the given config file, applies defaults and environment
overrides the same way run does, and reports whether the result passes
config.Validate. It performs no connector, indexer, or messenger work.

Example:
  lucilliform validate --config run.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doValidate(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to run configuration YAML file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// doValidate loads cfg through the same path doRun uses (config.Load already
// calls Config.Validate) and reports the outcome, exiting 1 on failure per
// the CLI's config-error convention.
func doValidate(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(runner.ExitConfigError))
		return nil
	}

	fmt.Printf("config %s is valid: %d connector(s), backend %q\n",
		configFile, len(cfg.Connectors), cfg.Indexer.Backend.Kind)
	return nil
}

// doRun loads configuration, wires up logging, metrics, and tracing, and
// drives a single Runner to completion, exiting with the code its run
// produced (§6: 0 success, 1 config error, 2 run aborted).
func doRun(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(runner.ExitConfigError))
		return nil
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(runner.ExitConfigError))
		return nil
	}
	log := logger.Get().With(zap.String("component", "cli"))
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Init(telemetry.DefaultConfig())
	if err != nil {
		log.Warn("tracing disabled: failed to initialize", zap.Error(err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics.Addr, log)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg)
	log.Info("starting run", zap.Int("connectors", len(cfg.Connectors)))

	code := r.Run(ctx)
	log.Info("run finished", zap.Int("exit_code", int(code)))

	if code != runner.ExitSuccess {
		os.Exit(int(code))
	}
	return nil
}

// startMetricsServer exposes the process's Prometheus registry on addr and
// returns the server so the caller can shut it down on exit.
func startMetricsServer(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()
	log.Info("metrics server listening", zap.String("addr", addr))
	return srv
}
