package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-companion-client/internal/config"
	"voice-companion-client/internal/device"
	"voice-companion-client/internal/events"
	"voice-companion-client/internal/observability/logging"
	"voice-companion-client/internal/service/agent"
	"voice-companion-client/internal/service/agent/mock"
	agentws "voice-companion-client/internal/service/agent/websocket"
	"voice-companion-client/internal/service/analyser"
	"voice-companion-client/internal/service/backend"
	"voice-companion-client/internal/service/capture"
	"voice-companion-client/internal/service/playback"
	"voice-companion-client/internal/service/session"
	"voice-companion-client/internal/service/transcript"
)

// Application holds process-wide state for the client.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Publisher *events.Publisher
	Session   *session.Session

	ready atomic.Bool
}

// New constructs the application: logging, the event publisher and the
// voice session wired to the configured devices, backend and agent mode.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{Cfg: cfg}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicLifecycle: cfg.Kafka.TopicLifecycle,
		TopicState:     cfg.Kafka.TopicState,
		Principal:      cfg.Kafka.Principal,
	})

	opts, err := SessionOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.Publisher = a.Publisher
	a.Session = session.New(opts)

	appLogger.Info().
		Str("agentMode", cfg.Agent.Mode).
		Str("audioInput", cfg.Audio.Input).
		Str("audioOutput", cfg.Audio.Output).
		Str("clientId", a.Session.ClientID()).
		Msg("Voice client application created")
	return a, nil
}

// setupLogger configures zerolog for the client.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:  a.Cfg.Observability.LogLevel,
		Format: a.Cfg.Observability.LogFormat,
	})
	a.Logger = logging.WithComponent("application").With().
		Str("service", a.Cfg.Service.Name).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// SessionOptions translates configuration into session options. The
// publisher is left for the caller.
func SessionOptions(cfg *config.Config) (session.Options, error) {
	input, err := InputOpener(cfg.Audio)
	if err != nil {
		return session.Options{}, err
	}
	output, err := OutputOpener(cfg.Audio)
	if err != nil {
		return session.Options{}, err
	}
	be, dialer := Transport(cfg)

	return session.Options{
		WalletAddress:      cfg.Agent.WalletAddress,
		UserID:             cfg.Agent.UserID,
		Voice:              cfg.Agent.Voice,
		Model:              cfg.Agent.Model,
		SystemInstructions: cfg.Agent.SystemInstructions,
		Temperature:        cfg.Agent.Temperature,
		Backend:            be,
		Dialer:             dialer,
		OpenDevice:         input,
		OpenOutput:         output,
		Normalizer:         transcript.NewNormalizer(cfg.Transcript.BrandName, cfg.Transcript.ProhibitedTokens),
		Capture: capture.Config{
			FrameSize:        cfg.Audio.FrameSize,
			TargetSampleRate: cfg.Audio.TargetSampleRate,
		},
		Playback: playback.Config{
			SampleRate: cfg.Audio.TargetSampleRate,
			Jitter:     cfg.Audio.JitterBuffer,
		},
		ErrorClearDelay: cfg.UI.ErrorClearDelay,
		LevelInterval:   cfg.Audio.LevelInterval,
		ConnectTimeout:  cfg.Agent.ConnectTimeout,
	}, nil
}

// InputOpener selects the capture device.
func InputOpener(cfg config.AudioConfig) (capture.Opener, error) {
	switch cfg.Input {
	case "portaudio", "":
		return device.OpenMic(device.MicConfig{
			SampleRate:      cfg.InputSampleRate,
			FramesPerBuffer: cfg.FrameSize,
		}), nil
	case "wav":
		return device.OpenWAV(cfg.InputFile, true, false), nil
	case "silence":
		return device.OpenSilence(cfg.InputSampleRate), nil
	default:
		return nil, fmt.Errorf("unknown audio input %q", cfg.Input)
	}
}

// OutputOpener selects the playback device. "none" renders nowhere.
func OutputOpener(cfg config.AudioConfig) (session.OutputOpener, error) {
	switch cfg.Output {
	case "portaudio", "":
		return device.OpenSpeaker(device.SpeakerConfig{SampleRate: cfg.TargetSampleRate}), nil
	case "none":
		return func(_ context.Context, a *analyser.Analyser) (playback.Output, error) {
			return playback.NewNullOutput(a), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown audio output %q", cfg.Output)
	}
}

// Transport returns the backend and agent dialer for the agent mode. Mock
// mode runs entirely in-process.
func Transport(cfg *config.Config) (session.Backend, agent.Dialer) {
	if cfg.Agent.Mode == "mock" {
		return backend.NewOffline(), mock.NewDialer(mock.DefaultConfig())
	}
	be := backend.New(backend.Config{
		BaseURL:   cfg.Backend.URL,
		AuthToken: cfg.Backend.AuthToken,
		Timeout:   cfg.Backend.Timeout,
	})
	wsCfg := agentws.DefaultConfig()
	wsCfg.HandshakeTimeout = cfg.Agent.ConnectTimeout
	return be, agentws.NewDialer(wsCfg)
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice client starting")

	return nil
}

// Ready reports whether Start has run and Shutdown has not.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown performs a best-effort cleanup before process exit. The session
// loop closes the session itself when its context ends.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	shutdownLogger.Info().Msg("Voice client shutting down")
}
