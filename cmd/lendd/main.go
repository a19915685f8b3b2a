package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"p2plend/cmd/internal/passphrase"
	"p2plend/config"
	"p2plend/core"
	"p2plend/observability/logging"
	telemetry "p2plend/observability/otel"
	"p2plend/rpc"
	"p2plend/rpc/middleware"
	"p2plend/services/archive"
	"p2plend/storage"
)

const shutdownTimeout = 10 * time.Second

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; real deployments inject the environment.
	_ = godotenv.Load()

	cfgPath := flag.String("config", "./lend.toml", "Path to the node configuration (.toml, .yaml or .yml)")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "lendd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	passSource := passphrase.NewSource(config.EnvKeystorePassphrase, "admin keystore")
	cfg, err := config.Load(cfgPath, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if fromEnv := strings.TrimSpace(os.Getenv("LEND_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger := logging.SetupWithOptions("lendd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "lendd",
		Version:        version,
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: time.Duration(cfg.Telemetry.MetricIntervalSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	params, err := cfg.Lending.Params()
	if err != nil {
		return err
	}
	admin, err := cfg.AdminAddress()
	if err != nil {
		return fmt.Errorf("read admin keystore: %w", err)
	}
	genesis, err := cfg.GenesisSpec(admin)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Options{
		Params:          params,
		Pauses:          cfg.PauseSet(),
		Quota:           cfg.QuotaSpec(),
		Logger:          logger,
		OracleRetention: cfg.OracleRetention,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Bootstrap(ctx, genesis); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("lending node ready",
		slog.String("contract", node.Contract().String()),
		slog.String("admin", genesis.Admin.String()),
		slog.String("storage", cfg.StorageBackend))

	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		sub := node.Bus().Subscribe(cfg.Archive.QueueSize)
		go func() {
			if err := store.Follow(ctx, sub); err != nil {
				logger.Error("archive stopped", slog.String("error", err.Error()))
			}
		}()
	}

	secret := os.Getenv(config.EnvJWTSecret)
	server, err := rpc.NewServer(node, rpc.ServerConfig{
		MaxConnections:    cfg.RPC.MaxConnections,
		MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
		ReadHeaderTimeout: cfg.RPC.ReadHeaderTimeoutDuration(),
		TLSCertFile:       cfg.RPC.TLSCertFile,
		TLSKeyFile:        cfg.RPC.TLSKeyFile,
		EnvelopeTTL:       cfg.RPC.EnvelopeTTLDuration(),
		RateLimit:         middleware.RateLimit{RequestsPerMinute: cfg.RPC.RequestsPerMinute, Burst: cfg.RPC.Burst},
		Auth: middleware.AuthConfig{
			Enabled:    strings.TrimSpace(secret) != "",
			HMACSecret: secret,
			Issuer:     cfg.RPC.JWTIssuer,
			Audience:   cfg.RPC.JWTAudience,
		},
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.RPC.AllowedOrigins},
		OperatorScope: cfg.RPC.OperatorScope,
		Operator:      genesis.Operator,
		Oracle:        genesis.Oracle,
		LogRequests:   cfg.RPC.LogRequests,
	}, logger)
	if err != nil {
		return err
	}
	if secret == "" {
		logger.Warn("operator methods disabled", slog.String("reason", config.EnvJWTSecret+" not set"))
	}

	serverErr := make(chan error, 2)
	httpListener, err := net.Listen("tcp", cfg.RPC.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPC.ListenAddress, err)
	}
	go func() { serverErr <- server.Serve(httpListener) }()

	if addr := strings.TrimSpace(cfg.RPC.GRPCAddress); addr != "" {
		grpcListener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		go func() { serverErr <- server.ServeGRPC(grpcListener) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", slog.String("error", err.Error()))
	}
	return nil
}
