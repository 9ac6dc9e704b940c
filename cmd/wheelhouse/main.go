// Command wheelhouse runs the session broker: it serves the front-end
// websocket gateway, manages the embedded automation server, and brokers
// per-window automation sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation/adapters/webdriver"
	"github.com/wheelhouse-dev/wheelhouse/pkg/broker"
	"github.com/wheelhouse-dev/wheelhouse/pkg/bus"
	"github.com/wheelhouse-dev/wheelhouse/pkg/config"
	"github.com/wheelhouse-dev/wheelhouse/pkg/gateway"
)

var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wheelhouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		listen      = flag.String("listen", "", "gateway bind address (overrides config)")
		natsURL     = flag.String("nats-url", "", "NATS URL for the event bus (overrides config)")
		logLevel    = flag.String("log-level", "", "ambient log level (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("wheelhouse %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *natsURL != "" {
		cfg.NATSURL = *natsURL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	log.Info("starting wheelhouse",
		slog.String("version", version),
		slog.String("listen", cfg.Listen))

	eventBus, err := newBus(cfg)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	registry := prometheus.NewRegistry()
	b := broker.New(
		webdriver.NewDriver(nil),
		eventBus,
		broker.WithLogger(log),
		broker.WithMetricsRegisterer(registry),
		broker.WithLogInterval(cfg.LogFlushInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcSubs, err := b.BindRPC(ctx)
	if err != nil {
		return fmt.Errorf("bind rpc: %w", err)
	}
	defer func() {
		for _, s := range rpcSubs {
			_ = s.Unsubscribe()
		}
	}()

	gw := gateway.New(b, eventBus, registry, gateway.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("gateway listening", slog.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		b.Shutdown(shutdownCtx)
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func newBus(cfg config.Config) (bus.MessageBus, error) {
	if cfg.NATSURL == "" {
		return bus.NewMemoryBus(), nil
	}
	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.NATSURL
	natsBus, err := bus.NewNATSBus(busCfg)
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	return natsBus, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
