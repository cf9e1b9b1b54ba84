package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"traderchain/core"
	"traderchain/core/events"
	"traderchain/gateway/middleware"
	nativecommon "traderchain/native/common"
	"traderchain/native/fund"
	"traderchain/native/registry"
	"traderchain/observability"
	"traderchain/observability/logging"
	telemetry "traderchain/observability/otel"
	"traderchain/services/fundd/config"
	"traderchain/services/fundd/sampler"
	"traderchain/services/fundd/server"
	"traderchain/services/fundd/storage"
	kv "traderchain/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/fundd/config.yaml", "path to fundd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("fundd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("TRC_ENV"))
	logger := logging.SetupWithFile("fundd", env, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	logger.Info("fundd configuration loaded", configAttrs(cfgPath, cfg)...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "fundd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("fundd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		log.Fatalf("fundd: load registry: %v", err)
	}

	db, err := kv.NewLevelDB(cfg.StatePath)
	if err != nil {
		log.Fatalf("fundd: open state: %v", err)
	}
	backend := core.NewLocalBackend(db)
	defer backend.Close()

	journal, err := storage.Open(cfg.JournalDSN, logger)
	if err != nil {
		log.Fatalf("fundd: open journal: %v", err)
	}
	defer journal.Close()

	pauses := nativecommon.NewPauses(cfg.Engine.Paused...)
	engine := fund.NewEngine(reg, backend)
	engine.SetPauses(pauses)
	if err := engine.SetSlippageTolerance(cfg.Engine.SlippageBps); err != nil {
		log.Fatalf("fundd: slippage tolerance: %v", err)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		limits[rl.ID] = middleware.RateLimit{RatePerSecond: rl.RatePerSecond, Burst: rl.Burst}
	}
	srv, err := server.New(server.Config{
		Engine:  engine,
		Backend: backend,
		Journal: journal,
		Pauses:  pauses,
		Auth: middleware.AuthConfig{
			Enabled:    !cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimits:  limits,
		ExportDir:   cfg.ExportDir,
		Logger:      logger,
		LogRequests: true,
	})
	if err != nil {
		log.Fatalf("fundd: server: %v", err)
	}
	engine.SetEmitter(events.MultiEmitter{journal, srv.Hub()})
	if cfg.Auth.Disabled {
		logger.Warn("bearer auth disabled; callers are named by the " + server.AccountHeader + " header")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Sampler.Disabled {
		navSampler, err := sampler.New(engine, journal, cfg.Sampler.Interval.Duration,
			sampler.WithLogger(logger), sampler.WithMetrics(observability.Funds()))
		if err != nil {
			log.Fatalf("fundd: sampler: %v", err)
		}
		go func() {
			if err := navSampler.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("nav sampler exited", "error", err)
				stop()
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:  cfg.HTTP.IdleTimeout.Duration,
	}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("fundd listening", "addr", cfg.ListenAddress, "funds_registry", cfg.RegistryPath)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

// configAttrs summarises cfg for the startup log with credentials masked.
func configAttrs(path string, cfg config.Config) []any {
	return []any{
		slog.String("config", path),
		slog.String("addr", cfg.ListenAddress),
		slog.String("state", cfg.StatePath),
		slog.String("journal", logging.MaskDSN(cfg.JournalDSN)),
		slog.String("registry", cfg.RegistryPath),
		slog.Bool("auth_disabled", cfg.Auth.Disabled),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		logging.MaskField("issuer", cfg.Auth.Issuer),
		slog.Any("paused", cfg.Engine.Paused),
		slog.Uint64("slippage_bps", uint64(cfg.Engine.SlippageBps)),
	}
}
