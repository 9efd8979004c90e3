// Package app wires configuration into the harvester's long-lived services
// and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/api"
	"github.com/JakeFAU/forumharvest/internal/clock/system"
	"github.com/JakeFAU/forumharvest/internal/config"
	"github.com/JakeFAU/forumharvest/internal/crawler"
	"github.com/JakeFAU/forumharvest/internal/dispatcher"
	"github.com/JakeFAU/forumharvest/internal/extractor"
	collyfetcher "github.com/JakeFAU/forumharvest/internal/fetcher/colly"
	"github.com/JakeFAU/forumharvest/internal/id/uuid"
	"github.com/JakeFAU/forumharvest/internal/logging"
	"github.com/JakeFAU/forumharvest/internal/metrics"
	"github.com/JakeFAU/forumharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/forumharvest/internal/progress"
	"github.com/JakeFAU/forumharvest/internal/progress/sinks"
	"github.com/JakeFAU/forumharvest/internal/storage/memory"
	mongostore "github.com/JakeFAU/forumharvest/internal/storage/mongo"
	"github.com/JakeFAU/forumharvest/internal/storage/postgres"
	"github.com/JakeFAU/forumharvest/internal/worker"
)

// Options overrides process-level dependencies. Zero values use os.Stderr
// and the configured store.
type Options struct {
	// BarOutput receives the progress bar.
	BarOutput io.Writer
	// Store replaces the configured record store. The App still closes it.
	Store crawler.RecordStore
}

// App holds every service a harvest run needs.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      crawler.RecordStore
	runLog     *postgres.RunLog
	registry   *prometheus.Registry
	hub        *progress.Hub
	dispatcher *dispatcher.Dispatcher
	pusher     *metrics.Pusher
	server     *api.Server
}

// New acquires the record store, builds the progress hub and its sinks, and
// assembles the fetch/extract/store pipeline. Anything acquired before a
// failure is released before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BarOutput == nil {
		opts.BarOutput = os.Stderr
	}

	a := &App{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.release(ctx)
		}
	}()

	a.store = opts.Store
	if a.store == nil {
		if a.store, err = openStore(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	var status *api.Status
	if cfg.Metrics.ListenAddr != "" {
		status = api.NewStatus()
		server := api.NewServer(a.registry, status, logging.Component(logger, "api"))
		if err = server.Start(cfg.Metrics.ListenAddr); err != nil {
			return nil, err
		}
		a.server = server
	}

	progressSinks, err := a.buildSinks(ctx, opts.BarOutput)
	if err != nil {
		return nil, err
	}
	if status != nil {
		progressSinks = append(progressSinks, status)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")}, progressSinks...)

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		URLTemplate:   cfg.Source.BaseURLTemplate,
		PageSize:      cfg.Source.PageSize,
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.Source.RespectRobots,
		Timeout:       cfg.RequestTimeout(),
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:    cfg.Crawler.RequestsPerSecond,
			Burst:  cfg.Crawler.Burst,
			Logger: logging.Component(logger, "ratelimit"),
		}),
		Logger: logging.Component(logger, "fetcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	clock := system.New()
	proc := worker.New(fetcher, extractor.New(), a.store, clock, logging.Component(logger, "worker"))
	a.dispatcher = dispatcher.New(
		proc,
		dispatcher.Config{Concurrency: cfg.Crawler.Concurrency},
		uuid.New(),
		clock,
		a.hub,
		logging.Component(logger, "dispatcher"),
	)
	a.pusher = metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, a.registry)

	logger.Info("harvester ready",
		zap.String("store", cfg.Store.Provider),
		zap.Int("pages", cfg.Source.PageCount),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.RecordStore, error) {
	switch cfg.Store.Provider {
	case config.StoreMongo:
		store, err := mongostore.NewRecordStore(ctx, mongostore.Config{
			URI:        cfg.Store.URI,
			Database:   cfg.Store.Database,
			Collection: cfg.Store.Collection,
			Strategy:   mongostore.Strategy(cfg.Store.Strategy),
			Timeout:    cfg.StoreTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		logger.Info("using mongo record store",
			zap.String("database", cfg.Store.Database),
			zap.String("collection", cfg.Store.Collection),
			zap.String("strategy", cfg.Store.Strategy),
		)
		return store, nil
	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout())
		defer cancel()
		store, err := postgres.NewRecordStore(connectCtx, postgres.RecordStoreConfig{
			DSN:      cfg.Store.URI,
			Table:    cfg.Store.Collection,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.EnsureSchema(connectCtx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		logger.Info("using postgres record store", zap.String("table", cfg.Store.Collection))
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory record store; records are discarded on exit")
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

func (a *App) buildSinks(ctx context.Context, barOut io.Writer) ([]progress.Sink, error) {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	built := []progress.Sink{promSink}
	if a.cfg.Progress.Bar {
		built = append(built, sinks.NewBarSink(barOut))
	}
	if a.cfg.Progress.LogEvents {
		built = append(built, sinks.NewLogSink(logging.Component(a.logger, "events")))
	}
	if a.cfg.Progress.RunLog {
		runLogSink, err := a.runLogSink(ctx)
		if err != nil {
			for _, sink := range built {
				_ = sink.Close(ctx)
			}
			return nil, err
		}
		built = append(built, runLogSink)
	}
	return built, nil
}

func (a *App) runLogSink(ctx context.Context) (progress.Sink, error) {
	pg, ok := a.store.(*postgres.RecordStore)
	if !ok {
		return nil, errors.New("progress.run_log requires the postgres record store")
	}
	runLog, err := pg.RunLog(a.cfg.Progress.RunLogTable)
	if err != nil {
		return nil, err
	}
	if err := runLog.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.runLog = runLog
	return sinks.NewRunLogSink(runLog, logging.Component(a.logger, "runlog")), nil
}

// Run harvests pages 1 through the configured page count, delivers the
// run's progress events to the sinks, then pushes the run's metrics when a
// Pushgateway is configured. A push failure is logged
// and does not fail the run.
func (a *App) Run(ctx context.Context) (crawler.RunReport, error) {
	report, err := a.dispatcher.Run(ctx, 1, a.cfg.Source.PageCount)
	if err != nil {
		return report, err
	}
	pushCtx := context.WithoutCancel(ctx)
	if err := a.hub.Flush(pushCtx); err != nil {
		a.logger.Warn("progress flush failed", zap.Error(err))
	}
	if err := a.pusher.Push(pushCtx, report.RunID); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
	return report, nil
}

// StatusAddr is the bound address of the status server, or "" when it is
// disabled.
func (a *App) StatusAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Registry exposes the run's metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close drains the progress hub, stops the status server, then releases
// the run ledger and the record store. It is safe to call on every exit path.
func (a *App) Close(ctx context.Context) error {
	return a.release(ctx)
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.server = nil
	}
	if a.runLog != nil {
		a.runLog.Close()
		a.runLog = nil
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
		a.store = nil
	}
	return errors.Join(errs...)
}
