package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/grad-enav/atonservice/internal/atonsvc/audit"
	"github.com/grad-enav/atonservice/internal/atonsvc/config"
	"github.com/grad-enav/atonservice/internal/atonsvc/dataset"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/dbmanager"
	"github.com/grad-enav/atonservice/internal/atonsvc/db/postgresql"
	"github.com/grad-enav/atonservice/internal/atonsvc/exchangeset"
	"github.com/grad-enav/atonservice/internal/atonsvc/feed"
	"github.com/grad-enav/atonservice/internal/atonsvc/keys"
	"github.com/grad-enav/atonservice/internal/atonsvc/secom"
	"github.com/grad-enav/atonservice/internal/atonsvc/server"
	"github.com/grad-enav/atonservice/internal/common/eventbus"
	"github.com/grad-enav/atonservice/internal/common/httpclient"
	"github.com/grad-enav/atonservice/internal/common/logtrace"
)

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve --config CONFIG_FILE",
		Short: "Run the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "atonsvc.toml", "Path to the configuration file")
	return cmd
}

func run(parent context.Context, configFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	slog := log.With().Str("state", "init").Logger()

	slog.Info().Str("config_file", configFile).Msg("loading config file")
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	cfg := config.Config()
	logtrace.SetLevel(cfg.Log.Level)
	if cfg.Log.Console {
		logtrace.UseConsoleWriter(os.Stderr)
	}

	ctx, cancel := context.WithCancel(log.Logger.WithContext(parent))
	defer cancel()

	pool, err := dbmanager.Open(ctx, dbmanager.Options{
		DSN:              cfg.DSN(),
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		StatementTimeout: cfg.DB.GetStatementTimeout(),
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()
	if err := pool.EnsureSchema(ctx); err != nil {
		return err
	}
	stores := postgresql.NewStores(pool.DB())

	km := keys.NewManager(cfg.Keys.Path, cfg.Keys.Password)
	key, kerr := km.GetActiveKey(ctx)
	if kerr != nil {
		return fmt.Errorf("loading signing key: %w", kerr)
	}

	bus := eventbus.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	datasets := dataset.NewManager(stores.Datasets, stores.Content, stores.Atons, bus)
	contentLog := dataset.NewContentLog(stores.Content)

	doer := httpclient.NewClient(httpclient.ClientOptions{
		Timeout:               cfg.Secom.GetRequestTimeout(),
		DisableCertValidation: cfg.Secom.DisableCertValidation,
		KeyID:                 key.KeyID,
		SigningKey:            key.PrivateKey,
	})
	subscriptions := secom.NewService(
		stores.Subscriptions,
		datasets,
		secom.NewClient(doer, cfg.Secom.RegistryURL),
		secom.NewEd25519Signer(km),
		secom.WithNotifyTimeout(cfg.Secom.GetNotifyTimeout()),
		secom.WithPackager(exchangeset.NewPackager(contentLog)),
	)
	dispatcher := secom.NewDispatcher(subscriptions, bus, cfg.Workers.Dispatchers, cfg.Workers.QueueSize,
		secom.WithDispatchMetrics(registry))
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		w, path, err := audit.Open(cfg.Audit.Dir, cfg.Audit.FlushInterval, key.PrivateKey)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		recorder = audit.NewRecorder(w)
		recorder.Start(ctx, bus)
		slog.Info().Str("path", path).Msg("audit log opened")
	}

	checks := map[string]server.HealthCheck{
		"db": func(ctx context.Context) error { return pool.DB().PingContext(ctx) },
	}
	var listener *feed.Listener
	var feedErrors <-chan error
	if cfg.Feed.Enabled {
		source := feed.NewJetStreamSource(feed.JetStreamConfig{
			URL:           cfg.Feed.URL,
			Stream:        cfg.Feed.Stream,
			Subject:       cfg.Feed.Subject,
			Durable:       cfg.Feed.Durable,
			MaxReconnects: cfg.Feed.MaxReconnects,
		})
		listener = feed.NewListener(source, stores.Atons, datasets, bus,
			feed.WithSubset(cfg.Feed.SubsetGeometry()),
			feed.WithDeletionHandler(cfg.Feed.DeletionHandler),
			feed.WithParallelism(cfg.Feed.Parallelism),
		)
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("starting feed listener: %w", err)
		}
		feedErrors = listener.Err()
		checks["feed"] = func(context.Context) error {
			if !listener.Healthy() {
				return errors.New("feed connection lost")
			}
			return nil
		}
	}

	s, err := server.CreateNewServer(server.Options{
		Datasets:       datasets,
		ContentLog:     contentLog,
		Subscriptions:  subscriptions,
		Gatherer:       registry,
		HealthChecks:   checks,
		HandleCORS:     cfg.Server.HandleCORS,
		RequestTimeout: cfg.Server.GetRequestTimeout(),
		MaxBodySize:    cfg.Server.MaxRequestBodySize,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
wait:
	for {
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				runErr = fmt.Errorf("server error: %w", err)
			}
			break wait
		case err := <-feedErrors:
			// Ingestion is over; dispatch and the API keep serving.
			log.Error().Err(err).Msg("ALERT: feed ingestion stopped")
			feedErrors = nil
		case sig := <-shutdown:
			slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			break wait
		}
	}

	stopTimeout := cfg.Workers.GetShutdownTimeout()
	if listener != nil {
		listener.Stop()
	}
	if err := dispatcher.Stop(stopTimeout); err != nil {
		log.Warn().Err(err).Msg("dispatch did not drain in time")
	}
	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			log.Warn().Err(err).Msg("unable to close audit log")
		}
	}
	bus.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		log.Warn().Err(err).Msg("graceful shutdown did not complete")
	}

	slog.Info().Msg("server stopped")
	return runErr
}
