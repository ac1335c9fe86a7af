package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"bridgesync/internal/infrastructure/config"
	"bridgesync/internal/infrastructure/logger"
	"bridgesync/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service context initialization failed")
	}
	defer func() { _ = sc.Close() }()

	sc.Start()

	log.Info().
		Str("config", *configPath).
		Str("origin", cfg.Bridge.Origin).
		Msg("bridgesync started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}
