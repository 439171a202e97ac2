// Command knnshard writes the top-k nearest neighbors of every word in an
// embedding model to sharded CSV files.
//
// Usage:
//
//	knnshard -model vectors.bin -k 10 -shards 8 -out ./neighbors
//	knnshard -config knnshard.yaml -publish s3:my-bucket -compression zstd
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hupe1980/knnshard"
	"github.com/hupe1980/knnshard/blobstore"
	"github.com/hupe1980/knnshard/blobstore/minio"
	"github.com/hupe1980/knnshard/blobstore/s3"
	"github.com/hupe1980/knnshard/config"
	"github.com/hupe1980/knnshard/embedding"
	"github.com/hupe1980/knnshard/publish"
	"github.com/hupe1980/knnshard/resource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "knnshard: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "knnshard: %v\n", err)
		return 1
	}

	var metrics knnshard.MetricsCollector = knnshard.NoopMetricsCollector{}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = newPromCollector(reg)
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	model, err := loadModel(ctx, cfg.Model, logger.Logger)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load model", "path", cfg.Model.Path, "error", err)
		return 1
	}

	orch, err := knnshard.New(model,
		knnshard.WithK(cfg.Run.K),
		knnshard.WithShards(cfg.Run.Shards),
		knnshard.WithOutputDir(cfg.Run.OutputDir),
		knnshard.WithStart(cfg.Run.Start),
		knnshard.WithEnd(cfg.Run.End),
		knnshard.WithRangeMode(cfg.Run.RangeMode),
		knnshard.WithMaxWorkers(cfg.Run.MaxWorkers),
		knnshard.WithFileLocks(cfg.Run.FileLocks),
		knnshard.WithLogger(logger),
		knnshard.WithMetricsCollector(metrics),
	)
	if err != nil {
		logger.ErrorContext(ctx, "invalid configuration", "error", err)
		return 1
	}

	report, runErr := orch.Run(ctx)
	if report == nil {
		logger.ErrorContext(ctx, "run failed", "error", runErr)
		return 1
	}
	for _, err := range report.Errors() {
		logger.ErrorContext(ctx, "worker error", "run_id", report.RunID, "error", err)
	}

	if cfg.Publish.Target != "" {
		if err := publishReport(ctx, cfg.Publish, report, logger.Logger); err != nil {
			logger.ErrorContext(ctx, "publish failed", "run_id", report.RunID, "error", err)
			return 1
		}
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func newLogger(cfg config.LogConfig, w io.Writer) (*knnshard.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return knnshard.NewLogger(slog.NewJSONHandler(w, opts)), nil
	}
	return knnshard.NewLogger(slog.NewTextHandler(w, opts)), nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *knnshard.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func loadModel(ctx context.Context, cfg config.ModelConfig, logger *slog.Logger) (embedding.Model, error) {
	opts := []func(*embedding.Options){
		embedding.WithLimit(cfg.Limit),
		embedding.WithLogger(logger),
	}
	if cfg.Float16 {
		opts = append(opts, embedding.WithFloat16())
	}

	switch cfg.Format {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return embedding.LoadSQLite(ctx, db, cfg.SQLiteTable, opts...)
	default:
		return embedding.LoadWord2Vec(cfg.Path, opts...)
	}
}

func openStore(ctx context.Context, cfg config.PublishConfig) (blobstore.Store, error) {
	target, err := config.ParseTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case "local":
		return blobstore.NewLocalStore(target.Name), nil
	case "minio":
		if cfg.Endpoint == "" {
			return nil, errors.New("publish.endpoint is required for minio")
		}
		return minio.Dial(cfg.Endpoint, !cfg.Insecure, target.Name, "")
	default:
		var optFns []func(*s3.Options)
		if cfg.Region != "" {
			optFns = append(optFns, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			optFns = append(optFns, s3.WithEndpoint(cfg.Endpoint))
		}
		return s3.New(ctx, target.Name, optFns...)
	}
}

func publishReport(ctx context.Context, cfg config.PublishConfig, report *knnshard.Report, logger *slog.Logger) error {
	codec, err := publish.ParseCodec(cfg.Compression)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	var rc *resource.Controller
	if cfg.IOLimitBytesPerSec > 0 {
		rc = resource.NewController(resource.Config{IOLimitBytesPerSec: cfg.IOLimitBytesPerSec})
	}

	p := publish.New(store, func(o *publish.Options) {
		o.Prefix = cfg.Prefix
		o.Codec = codec
		o.Concurrency = cfg.Concurrency
		o.Resource = rc
		o.Logger = logger
	})
	_, err = p.Publish(ctx, report)
	return err
}
