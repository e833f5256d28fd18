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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendchain/cmd/internal/passphrase"
	"lendchain/config"
	"lendchain/core"
	"lendchain/crypto"
	"lendchain/observability/logging"
	telemetry "lendchain/observability/otel"
	"lendchain/rpc"
)

const environmentEnv = "LENDCHAIN_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	bootstrapFlag := flag.String("bootstrap", "", "Path to a YAML bootstrap manifest (overrides config BootstrapFile)")
	flag.Parse()

	if err := run(*configFile, *bootstrapFlag); err != nil {
		fmt.Fprintf(os.Stderr, "lendchaind: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, bootstrapFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Logging.Env
	if override := strings.TrimSpace(os.Getenv(environmentEnv)); override != "" {
		env = override
	}
	logger, logCloser := logging.Setup("lendchaind", logging.Options{
		Env:        env,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "lendchaind",
		Environment: env,
		Network:     cfg.NetworkName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.MergeHeaders(cfg.Telemetry.Headers, telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))),
		Metrics:     cfg.Telemetry.EnableMetrics,
		Traces:      cfg.Telemetry.EnableTraces,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	admin, err := loadAdminKey(cfg)
	if err != nil {
		return fmt.Errorf("load admin key: %w", err)
	}
	logger.Info("admin key loaded",
		slog.String("address", crypto.FormatIdentity(admin.Identity())),
		logging.MaskField("keystore", cfg.AdminKeystorePath))

	node, err := core.NewNode(core.LevelDBOpener(cfg.RegistryDir), core.Options{
		Admin:   admin.Identity(),
		Version: cfg.ContractVersion,
		Pauses:  cfg.Pauses.Modules(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	bootstrapPath := strings.TrimSpace(bootstrapFlag)
	if bootstrapPath == "" {
		bootstrapPath = strings.TrimSpace(cfg.BootstrapFile)
	}
	if bootstrapPath != "" {
		if err := applyBootstrap(node, bootstrapPath); err != nil {
			return err
		}
	}

	noncePath := strings.TrimSpace(cfg.RPC.NonceStorePath)
	if noncePath == "" {
		noncePath = filepath.Join(cfg.DataDir, "rpc-nonces")
	}
	nonces, err := rpc.OpenLevelDBNonces(noncePath)
	if err != nil {
		return err
	}
	defer nonces.Close()

	server := rpc.NewServer(node, rpc.ServerConfig{
		RPC:         cfg.RPC,
		NetworkName: cfg.NetworkName,
		Logger:      logger,
		Nonces:      nonces,
	})
	if err := server.HydrateNonces(ctx); err != nil {
		return err
	}

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go serveMetrics(ctx, addr, logger)
	}

	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		return fmt.Errorf("serve json-rpc: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadAdminKey unlocks the admin keystore. Keystores generated without a
// passphrase open directly; otherwise the passphrase comes from AdminPassEnv
// or an interactive prompt.
func loadAdminKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, ""); err == nil {
		return key, nil
	}
	pass, err := passphrase.NewSource(cfg.AdminPassEnv, "admin keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(cfg.AdminKeystorePath, pass)
}

func applyBootstrap(node *core.Node, path string) error {
	manifest, err := config.LoadBootstrap(path)
	if err != nil {
		return err
	}
	apps, err := manifest.ResolveApps()
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", path, err)
	}
	verdicts, err := manifest.ResolveAuthenticated()
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", path, err)
	}
	seed := core.Seed{Authenticated: verdicts}
	for _, app := range apps {
		seed.Apps = append(seed.Apps, core.SeedApp{ID: app.ID, Name: app.Name})
	}
	return node.ApplySeed(seed)
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", slog.Any("error", err))
	}
}
