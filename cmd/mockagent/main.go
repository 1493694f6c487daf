package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"voice-companion-client/internal/observability"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/observability/metrics"
	"voice-companion-client/internal/service/agent/mock"
)

// Serves the scripted agent (session backend plus agent WebSocket) so the
// client can be exercised without the real backend.
func main() {
	addr := flag.String("addr", ":5000", "Listen address")
	framesPerTurn := flag.Int("frames-per-turn", 0, "Captured frames before each scripted turn (0 = default)")
	insufficient := flag.String("insufficient-wallets", "", "Comma-separated wallets rejected with 402")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})
	logger := logging.WithComponent("mockagent")

	cfg := mock.DefaultServerConfig()
	if *framesPerTurn > 0 {
		cfg.Agent.FramesPerTurn = *framesPerTurn
	}
	if *insufficient != "" {
		cfg.InsufficientWallets = strings.Split(*insufficient, ",")
	}
	agent := mock.NewServer(cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(logger, metrics.DefaultMetrics))
	r.Mount("/", agent.Routes())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", *addr).
		Int("framesPerTurn", cfg.Agent.FramesPerTurn).
		Msg("Mock agent listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Mock agent stopped")
	}
}
