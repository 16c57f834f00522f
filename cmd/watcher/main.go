package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"digwatch/internal/log"
	loglogrus "digwatch/internal/log/logrus"
	"digwatch/internal/watcher/app"
	"digwatch/internal/watcher/config"
)

// Version is the application version (set via ldflags).
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Run runs the watcher service until a termination signal arrives.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := config.Load(args[1:])
	if err != nil {
		return err
	}
	logger := getLogger(cfg, stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Infof("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Reconciler.
	{
		pollCtx, pollCancel := context.WithCancel(ctx)
		defer pollCancel()

		g.Add(
			func() error {
				return a.RunPollers(pollCtx)
			},
			func(_ error) {
				pollCancel()
				if err := a.Reconciler().StopAllPolling(); err != nil {
					logger.Errorf("Failed to stop polling: %v", err)
				}
			},
		)
	}

	// HTTP server.
	{
		g.Add(
			func() error {
				return a.Serve()
			},
			func(_ error) {
				logger.Infof("Shutting down server...")
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.ShutdownServer(ctx); err != nil {
					logger.Errorf("Server forced to shutdown: %v", err)
				}
			},
		)
	}

	runErr := g.Run()
	if err := a.Close(); err != nil {
		logger.Errorf("Failed to release resources: %v", err)
	}
	if runErr != nil {
		return runErr
	}
	logger.Infof("Server exiting")
	return nil
}

func getLogger(cfg *config.Config, out io.Writer) log.Logger {
	logrusLog := logrus.New()
	logrusLog.Out = out
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if cfg.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
		"env":     cfg.Env,
	})
	logger.Debugf("Debug level is enabled")
	return logger
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
