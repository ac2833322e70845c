package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hothouse-labs/hothouse/pkg/config"
	"github.com/hothouse-labs/hothouse/pkg/protocol"
	"github.com/hothouse-labs/hothouse/pkg/rules"
	"github.com/hothouse-labs/hothouse/pkg/secure"
	"github.com/hothouse-labs/hothouse/pkg/store"
	"github.com/hothouse-labs/hothouse/pkg/telemetry"
)

var (
	configPath  = flag.String("config", "/etc/hothouse/gateway.yaml", "Config file path")
	listen      = flag.String("listen", "", "Device listen address (overrides config)")
	adminListen = flag.String("admin-listen", "", "Admin API listen address (overrides config)")
	dbPath      = flag.String("db", "", "Database path (overrides config)")
	Version     = "dev"
)

func main() {
	flag.Parse()

	configureLogger()
	log.Info().Str("version", Version).Msg("Hothouse Gateway starting")

	cfg, err := config.LoadGateway(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *adminListen != "" {
		cfg.Admin.Listen = *adminListen
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	applyLogging(cfg.Logging)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	log.Info().Str("path", cfg.Store.Path).Msg("Store ready")

	box, err := secure.NewBox(cfg.Auth.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cipher")
	}
	codec := protocol.NewCodec(box)

	provider, err := telemetry.SetupTracing(context.Background(), "hothouse-gateway", Version,
		cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	engine := rules.NewEngine(db, cfg.Engine.DefaultSendDelay, log.With().Str("component", "rules").Logger())

	srv := NewServer(cfg.Listen, cfg.Auth.Password, codec, db, engine,
		log.With().Str("component", "server").Logger())
	if err := srv.Listen(); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind device listener")
	}

	api := NewAdminAPI(db, srv.Sessions, log.With().Str("component", "admin").Logger())
	adminSrv := &http.Server{Addr: cfg.Admin.Listen, Handler: api.Router()}
	go func() {
		log.Info().Str("listen", cfg.Admin.Listen).Msg("Admin API started")
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin API failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Admin API shutdown failed")
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Tracer shutdown failed")
	}
	log.Info().Msg("Gateway stopped")
}

func configureLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("HOTHOUSE_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("HOTHOUSE_LOG_FORMAT")))
	log.Logger = newLogger(format).Level(level)
	zerolog.SetGlobalLevel(level)
}

func applyLogging(cfg config.LoggingConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	format := "console"
	if cfg.JSON {
		format = "json"
	}
	log.Logger = newLogger(format).Level(level)
	zerolog.SetGlobalLevel(level)
}

func newLogger(format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
