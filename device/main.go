package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hothouse-labs/hothouse/pkg/config"
	"github.com/hothouse-labs/hothouse/pkg/protocol"
	"github.com/hothouse-labs/hothouse/pkg/secure"
	"github.com/hothouse-labs/hothouse/pkg/store"
)

var (
	configPath  = flag.String("config", "/etc/hothouse/devices.yaml", "Config file path")
	gatewayAddr = flag.String("gateway", "", "Gateway address (overrides config)")
	Version     = "dev"
)

func main() {
	flag.Parse()

	configureLogger()
	log.Info().Str("version", Version).Msg("Hothouse device fleet starting")

	cfg, err := config.LoadDevice(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *gatewayAddr != "" {
		cfg.Gateway.Addr = *gatewayAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	applyLogging(cfg.Logging)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open environment store")
	}
	if err := db.SeedIndicators(cfg.Sectors); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed indicators")
	}

	box, err := secure.NewBox(cfg.Auth.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cipher")
	}
	codec := protocol.NewCodec(box)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, spec := range cfg.Devices {
		sess := newDeviceSession(spec, cfg, codec, db, stop, log.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Stagger fleet startup so devices do not dial in lockstep.
			time.Sleep(time.Duration(rand.Int63n(int64(time.Second))))
			sess.run()
		}()
	}
	log.Info().Int("devices", len(cfg.Devices)).Str("gateway", cfg.Gateway.Addr).Msg("Fleet running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	close(stop)
	wg.Wait()
	log.Info().Msg("Fleet stopped")
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
