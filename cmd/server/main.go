// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/app"
	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/controller"
	"github.com/unclebandit/dispatch-engine/internal/handler"
	"github.com/unclebandit/dispatch-engine/internal/logging"
)

func main() {
	var (
		cfgPath        string
		embeddedWorker bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to a YAML or JSON config file")
	flag.BoolVar(&embeddedWorker, "with-worker", false, "also run the dispatch tick in this process")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log)

	if err := run(cfg, embeddedWorker, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, embeddedWorker bool, logger zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	if embeddedWorker {
		stop, err := a.StartWorker(ctx)
		if err != nil {
			return fmt.Errorf("worker startup: %w", err)
		}
		defer stop()
	}

	r := controller.NewRouter(a.Service, logger)
	health := handler.NewHealthHandler(a.HealthChecks())
	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Bool("with_worker", embeddedWorker).Msg("server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-drained
	return nil
}
