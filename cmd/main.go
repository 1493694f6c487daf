package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"voice-companion-client/internal/app"
	"voice-companion-client/internal/config"
	"voice-companion-client/internal/console"
	uihttp "voice-companion-client/internal/http"
	"voice-companion-client/internal/observability"
	"voice-companion-client/internal/service/backend"
)

const shutdownTimeout = 10 * time.Second

func main() {
	autoStart := flag.Bool("start", false, "Start a voice session immediately")
	showStates := flag.Bool("states", false, "Print session state changes alongside the transcript")
	showCost := flag.Bool("cost", false, "Print the backend cost table and exit")
	sessionID := flag.String("session", "", "Print the backend record for a session and exit")
	flag.Parse()

	cfg := config.Load()

	if *showCost || *sessionID != "" {
		if err := query(cfg, *showCost, *sessionID); err != nil {
			log.Fatal().Err(err).Msg("Backend query failed")
		}
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := application.Session
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(gctx)
	})

	views, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		console.NewRenderer(os.Stdout, *showStates).Run(gctx, views)
		return nil
	})

	obs := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)
	g.Go(obs.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		return shutdownServer(obs.Shutdown)
	})

	if cfg.UI.Enabled {
		ui := &http.Server{
			Addr:              cfg.UI.Addr,
			Handler:           uihttp.NewRouter(sess, application.Ready),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			application.Logger.Info().Str("addr", cfg.UI.Addr).Msg("UI bridge listening")
			if err := ui.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownServer(ui.Shutdown)
		})
	}

	if *autoStart {
		g.Go(func() error {
			if err := sess.Start(gctx); err != nil {
				application.Logger.Error().Err(err).Msg("Voice session failed to start")
			}
			return nil
		})
	}

	err = g.Wait()
	application.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Voice client stopped with error")
	}
}

func shutdownServer(shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return shutdown(ctx)
}

// query prints backend records as JSON on stdout.
func query(cfg *config.Config, cost bool, sessionID string) error {
	client := backend.New(backend.Config{
		BaseURL:   cfg.Backend.URL,
		AuthToken: cfg.Backend.AuthToken,
		Timeout:   cfg.Backend.Timeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if cost {
		out, err := client.GetCost(ctx)
		if err != nil {
			return err
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	if sessionID != "" {
		out, err := client.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		return enc.Encode(out)
	}
	return nil
}
