package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjsadow/webssh2/internal/auth"
	"github.com/rjsadow/webssh2/internal/config"
	"github.com/rjsadow/webssh2/internal/events"
	"github.com/rjsadow/webssh2/internal/gateway"
	"github.com/rjsadow/webssh2/internal/hostkeys"
	"github.com/rjsadow/webssh2/internal/logging"
	"github.com/rjsadow/webssh2/internal/recordings"
	"github.com/rjsadow/webssh2/internal/server"
	"github.com/rjsadow/webssh2/internal/session"
	sshsvc "github.com/rjsadow/webssh2/internal/ssh"
)

func main() {
	// Initialize structured logging with JSON handler for production
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.json", "Path to JSON config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	for _, warning := range warnings {
		slog.Warn(warning)
	}
	slog.Info("configuration loaded", "config", cfg.String())

	// Structured log pipeline.
	pipeline, err := buildLogPipeline(cfg)
	if err != nil {
		slog.Error("failed to build log pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()
	pipeline.Publish(logging.Record{Level: logging.LevelInfo, Event: "config_loaded"})

	// Host-key trust store.
	var hostKeyStore *hostkeys.Store
	if cfg.HostKeyVerification.Enabled && cfg.HostKeyVerification.ServerStoreEnabled() {
		hostKeyStore, err = hostkeys.Open(cfg.HostKeyVerification.ServerStore.DBPath)
		if err != nil {
			slog.Error("failed to open host-key store", "error", err)
			os.Exit(1)
		}
		defer hostKeyStore.Close()
	}

	// Recording storage.
	var recordingStore recordings.Store
	switch cfg.Recording.Backend {
	case "s3":
		recordingStore, err = recordings.NewS3Store(recordings.S3Config{
			Bucket:          cfg.Recording.S3Bucket,
			Region:          cfg.Recording.S3Region,
			Endpoint:        cfg.Recording.S3Endpoint,
			Prefix:          cfg.Recording.S3Prefix,
			AccessKeyID:     cfg.Recording.S3AccessKeyID,
			SecretAccessKey: cfg.Recording.S3SecretAccessKey,
		})
		if err != nil {
			slog.Error("failed to configure S3 recording store", "error", err)
			os.Exit(1)
		}
	default:
		recordingStore = recordings.NewLocalStore(cfg.Recording.LocalDir)
	}

	// Event bus with the standard middleware chain.
	metrics := &events.Metrics{}
	bus := events.NewBus(events.WithMiddleware(
		events.LoggingMiddleware(logger),
		events.MetricsMiddleware(metrics),
		events.ErrorHandlingMiddleware(events.ValidationMiddleware()),
	))

	// Session store.
	store := session.NewStore()
	store.Start()
	defer store.Stop()

	deps := gateway.Deps{
		Config:     cfg,
		Store:      store,
		Auth:       auth.NewPipeline(cfg),
		SSH:        sshsvc.NewService(cfg.SSH),
		HostKeys:   hostKeyStore,
		Logs:       pipeline,
		Bus:        bus,
		Recordings: recordingStore,
	}

	seeds := server.NewSeedStore(cfg.Session.Name)
	gate := gateway.NewConnGate(10, 20, 0)
	wsHandler := gateway.NewHandler(deps, gate, seeds)
	handlers := server.NewHandlers(cfg, seeds, store, gate, metrics)

	srv := server.New(cfg, handlers, wsHandler)

	go func() {
		slog.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	bus.Drain()
}

// buildLogPipeline assembles the structured pipeline from config.
func buildLogPipeline(cfg *config.Config) (*logging.Pipeline, error) {
	sampler := logging.NewSampler(cfg.Logging.Sampling.DefaultSampleRate, cfg.Logging.Sampling.Rules)
	limiter := logging.NewRateLimiter(cfg.Logging.RateLimit.Rules)

	var transports []logging.Transport
	for _, name := range cfg.Logging.Transports {
		switch name {
		case "stdout":
			transports = append(transports, logging.NewStdoutTransport(os.Stdout, cfg.Logging.MaxQueueSize))
		case "syslog":
			addr := cfg.Logging.Syslog.Host
			if addr == "" {
				addr = "localhost"
			}
			port := cfg.Logging.Syslog.Port
			if port == 0 {
				port = 514
			}
			t, err := logging.NewSyslogTransport(
				fmt.Sprintf("%s:%d", addr, port),
				logging.SyslogConfig{
					Facility:     cfg.Logging.Syslog.Facility,
					AppName:      cfg.Logging.Syslog.AppName,
					EnterpriseID: cfg.Logging.Syslog.EnterpriseID,
					IncludeJSON:  cfg.Logging.Syslog.IncludeJSON,
				},
				cfg.Logging.MaxQueueSize,
			)
			if err != nil {
				return nil, err
			}
			transports = append(transports, t)
		}
	}

	return logging.NewPipeline(
		logging.Level(cfg.Logging.MinimumLevel),
		cfg.Logging.Namespace,
		sampler,
		limiter,
		transports...,
	), nil
}
