package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"voice-companion-client/internal/app"
	"voice-companion-client/internal/config"
	"voice-companion-client/internal/console"
	"voice-companion-client/internal/device"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/service/session"
)

// Streams a WAV file through a voice session in real time, optionally
// recording the agent's audio, then prints the transcript.
func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to a 16-bit PCM WAV file")
	record := flag.String("record", "", "Write agent audio to this WAV file")
	tail := flag.Duration("tail", 5*time.Second, "How long to wait for the agent after the file ends")
	mock := flag.Bool("mock", false, "Use the in-process scripted agent")
	flag.Parse()

	cfg := config.Load()
	cfg.Audio.Input = "wav"
	cfg.Audio.InputFile = *audioFile
	cfg.Audio.Output = "none"
	if *mock {
		cfg.Agent.Mode = "mock"
	}

	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	clip, err := device.ReadWAV(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV file")
	}
	log.Info().
		Int("sampleRate", clip.SampleRate).
		Int("samples", len(clip.Samples)).
		Dur("duration", clip.Duration()).
		Msg("WAV file loaded")

	opts, err := app.SessionOptions(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build session options")
	}
	if *record != "" {
		opts.OpenOutput = device.OpenRecorder(*record, cfg.Audio.TargetSampleRate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(opts)
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	r := console.NewRenderer(os.Stdout, false)
	views, unsubscribe := sess.Subscribe()
	renderCtx, stopRender := context.WithCancel(ctx)
	rendered := make(chan struct{})
	go func() {
		r.Run(renderCtx, views)
		close(rendered)
	}()

	startCtx, cancel := context.WithTimeout(ctx, cfg.Agent.ConnectTimeout+cfg.Backend.Timeout)
	err = sess.Start(startCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start voice session")
	}
	log.Info().Str("sessionId", sess.Snapshot().SessionID).Msg("Streaming audio")

	select {
	case <-ctx.Done():
	case <-time.After(clip.Duration() + *tail):
	}

	unsubscribe()
	stopRender()
	<-rendered
	r.Render(sess.Snapshot())

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sess.Close(closeCtx)
	cancel()

	stop()
	<-done
	if *record != "" {
		log.Info().Str("path", *record).Msg("Agent audio recorded")
	}
}
