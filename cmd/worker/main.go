package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/app"
	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/logging"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to a YAML or JSON config file (watched for changes)")
	flag.Parse()

	cfg, mgr, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log)

	if err := run(cfg, mgr, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg *config.Config, mgr *config.Manager, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	stop, err := a.StartWorker(ctx)
	if err != nil {
		return fmt.Errorf("worker startup: %w", err)
	}

	if mgr != nil {
		go watchConfig(ctx, mgr, a, logger)
	}

	logger.Info().Str("tick", cfg.Dispatch.TickSchedule).Msg("worker running")
	<-ctx.Done()
	logger.Info().Msg("shutting down, waiting for the running tick")
	stop()
	return nil
}

func loadConfig(path string) (*config.Config, *config.Manager, error) {
	if path == "" {
		cfg, err := config.Load("")
		return cfg, nil, err
	}
	// .env still applies when a file is given.
	if _, err := config.Load(""); err != nil {
		log.Printf("warning: %v", err)
	}
	mgr := config.NewManager(path, zerolog.Nop())
	cfg, err := mgr.Load()
	return cfg, mgr, err
}

func watchConfig(ctx context.Context, mgr *config.Manager, a *app.App, logger zerolog.Logger) {
	updates := mgr.Subscribe(1)
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watch stopped")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			a.ApplyConfig(cfg)
		}
	}
}
