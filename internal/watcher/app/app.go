package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"digwatch/internal/events"
	"digwatch/internal/log"
	"digwatch/internal/metrics"
	"digwatch/internal/reconciler"
	"digwatch/internal/taskstatus"
	"digwatch/internal/tile"
	"digwatch/internal/watcher/config"
	"digwatch/internal/watcher/handler"
	"digwatch/internal/watcher/server"
)

type App struct {
	cfg        *config.Config
	logger     log.Logger
	server     *server.Server
	handler    http.Handler
	reconciler *reconciler.Reconciler
	closers    []closer
}

func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// Dependencies
	store, objectURL, closers, err := newObjectStore(ctx, cfg.Store, recorder)
	if err != nil {
		return nil, err
	}
	definitions, err := taskstatus.NewDefinitionLoader(store, cfg.Registry.DefinitionTTL)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to create definition loader: %w", err)
	}
	statuses, registryClosers, err := newStatusProvider(ctx, cfg.Registry, definitions)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	closers = append(closers, registryClosers...)

	bus := events.NewBus(0)
	sink := reconciler.EventSink{Bus: bus}
	rec, err := reconciler.New(reconciler.Config{
		Store:            store,
		StatusProvider:   statuses,
		Grids:            definitions,
		Renderer:         sink,
		Activity:         sink,
		Notifier:         sink,
		Metrics:          recorder,
		Logger:           logger,
		Ramp:             tile.Ramp{Min: cfg.RampMin, Max: cfg.RampMax},
		ObjectURL:        objectURL,
		PollInterval:     cfg.PollInterval,
		LiveTileInterval: cfg.LiveTileInterval,
		ActivityWindow:   cfg.ActivityWindow,
		InitialZoom:      cfg.InitialZoom,
	})
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	// Routing & Server
	pollingHandler := handler.NewPollingHandler(rec, logger)
	streamHandler := handler.NewProgressStreamHandler(bus, rec, logger)
	mux := server.NewMux(pollingHandler, streamHandler, registry)
	srv := server.New(cfg.Addr, mux, logger)
	srv.RegisterOnShutdown(streamHandler.Close)

	return &App{
		cfg:        cfg,
		logger:     logger,
		server:     srv,
		handler:    mux,
		reconciler: rec,
		closers:    closers,
	}, nil
}

// RunPollers starts polling the configured tasks and blocks until ctx is
// done. Stopping the pollers is left to the caller.
func (a *App) RunPollers(ctx context.Context) error {
	if err := a.StartTasks(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// StartTasks starts polling every task named in the configuration.
func (a *App) StartTasks() error {
	for _, id := range a.cfg.Tasks {
		if err := a.reconciler.StartPolling(id); err != nil {
			return fmt.Errorf("start polling %s: %w", id, err)
		}
	}
	if len(a.cfg.Tasks) > 0 {
		a.logger.Infof("polling %d configured task(s)", len(a.cfg.Tasks))
	}
	return nil
}

// Serve serves HTTP until ShutdownServer.
func (a *App) Serve() error {
	return a.server.Start()
}

func (a *App) ShutdownServer(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Close stops the reconciler and releases store and registry clients.
func (a *App) Close() error {
	errs := []error{a.reconciler.Close()}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.ShutdownServer(ctx), a.Close())
}

// Handler is the routed HTTP handler, for in-process serving.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Reconciler() *reconciler.Reconciler { return a.reconciler }

func closeAll(closers []closer) {
	for _, c := range closers {
		_ = c()
	}
}
