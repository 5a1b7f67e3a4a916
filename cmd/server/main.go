package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/chatrelay/internal/adapters/http"
	"github.com/dkeye/chatrelay/internal/adapters/rtc"
	"github.com/dkeye/chatrelay/internal/adapters/store"
	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/app/orch"
	"github.com/dkeye/chatrelay/internal/config"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if err := rtc.ProbeICEServers(cfg.WebRTCICEServers()); err != nil {
		log.Fatal().Err(err).Msg("invalid ice_servers")
	}

	callLog, err := openCallLog(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open call log")
	}

	m := metrics.New()
	o := orch.New(orch.Options{
		Policy:      backpressurePolicy(cfg.Backpressure),
		RingTimeout: cfg.RingTimeout,
		Metrics:     m,
	})

	journal := store.NewJournal(callLog, 0)
	journalCtx, stopJournal := context.WithCancel(context.Background())
	go journal.Run(journalCtx)
	o.OnCallChange(journal.Submit)

	r := router.SetupRouter(ctx, cfg, o, router.Deps{Calls: callLog, Metrics: m})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("chat relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	stopJournal()
	if err := journal.Close(); err != nil {
		log.Error().Err(err).Msg("close call log")
	}
	log.Info().Msg("Server exited gracefully")
}

func openCallLog(cfg *config.Config) (core.CallLog, error) {
	if cfg.CallStore == "sqlite" {
		return store.OpenSQLite(cfg.SQLitePath)
	}
	return store.NewMemory(), nil
}

func backpressurePolicy(name string) app.Policy {
	if name == "kick" {
		return app.SimplePolicy{}
	}
	return app.LenientPolicy{}
}
