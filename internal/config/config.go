package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"voice-companion-client/internal/models"
)

// Config holds the full client configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Backend       BackendConfig       `yaml:"backend"`
	Agent         AgentConfig         `yaml:"agent"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	UI            UIConfig            `yaml:"ui"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name      string `yaml:"name"`
	Principal string `yaml:"principal"`
	Env       string `yaml:"env"`
}

// BackendConfig points at the session backend (createSession/closeSession).
type BackendConfig struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AgentConfig selects the agent transport and the session parameters sent on create.
type AgentConfig struct {
	Mode               string        `yaml:"mode"` // websocket, mock
	WalletAddress      string        `yaml:"walletAddress"`
	UserID             string        `yaml:"userId"`
	Voice              string        `yaml:"voice"`
	Model              string        `yaml:"model"`
	SystemInstructions string        `yaml:"systemInstructions"`
	Temperature        float64       `yaml:"temperature"`
	ConnectTimeout     time.Duration `yaml:"connectTimeout"`
}

type AudioConfig struct {
	Input            string        `yaml:"input"` // portaudio, wav, silence
	InputFile        string        `yaml:"inputFile"`
	InputSampleRate  int           `yaml:"inputSampleRate"`
	FrameSize        int           `yaml:"frameSize"`
	TargetSampleRate int           `yaml:"targetSampleRate"`
	JitterBuffer     time.Duration `yaml:"jitterBuffer"`
	Output           string        `yaml:"output"` // portaudio, none
	LevelInterval    time.Duration `yaml:"levelInterval"`
}

type TranscriptConfig struct {
	BrandName        string   `yaml:"brandName"`
	ProhibitedTokens []string `yaml:"prohibitedTokens"`
}

type UIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ErrorClearDelay time.Duration `yaml:"errorClearDelay"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicLifecycle string   `yaml:"topicLifecycle"`
	TopicState     string   `yaml:"topicState"`
	Principal      string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "voice-companion-client",
			Principal: "svc-voice-companion",
		},
		Backend: BackendConfig{
			URL:     "http://localhost:5000",
			Timeout: 15 * time.Second,
		},
		Agent: AgentConfig{
			Mode:           "websocket",
			Voice:          models.DefaultVoice,
			Model:          models.DefaultModel,
			ConnectTimeout: 10 * time.Second,
		},
		Audio: AudioConfig{
			Input:            "portaudio",
			InputSampleRate:  48000,
			FrameSize:        4096,
			TargetSampleRate: models.TargetSampleRate,
			JitterBuffer:     20 * time.Millisecond,
			Output:           "portaudio",
			LevelInterval:    50 * time.Millisecond,
		},
		Transcript: TranscriptConfig{
			BrandName:        "Likable",
			ProhibitedTokens: []string{"Grok", "xAI"},
		},
		UI: UIConfig{
			Enabled:         true,
			Addr:            ":8090",
			ErrorClearDelay: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicLifecycle: "voice.session.lifecycle",
			TopicState:     "voice.session.state",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence (env wins).
func Load() *Config {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring config file")
		}
	}

	cfg.Service.Name = envOrDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.Env = envOrDefault("ENV", cfg.Service.Env)

	cfg.Backend.URL = envOrDefault("API_URL", cfg.Backend.URL)
	cfg.Backend.AuthToken = envOrDefault("API_AUTH_TOKEN", cfg.Backend.AuthToken)
	cfg.Backend.Timeout = envOrDefaultDuration("API_TIMEOUT", cfg.Backend.Timeout)

	cfg.Agent.Mode = envOrDefault("AGENT_MODE", cfg.Agent.Mode)
	cfg.Agent.WalletAddress = envOrDefault("WALLET_ADDRESS", cfg.Agent.WalletAddress)
	cfg.Agent.UserID = envOrDefault("USER_ID", cfg.Agent.UserID)
	cfg.Agent.Voice = envOrDefault("VOICE", cfg.Agent.Voice)
	cfg.Agent.Model = envOrDefault("VOICE_MODEL", cfg.Agent.Model)
	cfg.Agent.SystemInstructions = envOrDefault("SYSTEM_INSTRUCTIONS", cfg.Agent.SystemInstructions)
	cfg.Agent.Temperature = envOrDefaultFloat("TEMPERATURE", cfg.Agent.Temperature)
	cfg.Agent.ConnectTimeout = envOrDefaultDuration("AGENT_CONNECT_TIMEOUT", cfg.Agent.ConnectTimeout)

	cfg.Audio.Input = envOrDefault("AUDIO_INPUT", cfg.Audio.Input)
	cfg.Audio.InputFile = envOrDefault("AUDIO_INPUT_FILE", cfg.Audio.InputFile)
	cfg.Audio.InputSampleRate = envOrDefaultInt("AUDIO_INPUT_SAMPLE_RATE", cfg.Audio.InputSampleRate)
	cfg.Audio.FrameSize = envOrDefaultInt("AUDIO_FRAME_SIZE", cfg.Audio.FrameSize)
	cfg.Audio.TargetSampleRate = envOrDefaultInt("AUDIO_TARGET_SAMPLE_RATE", cfg.Audio.TargetSampleRate)
	cfg.Audio.JitterBuffer = envOrDefaultDuration("AUDIO_JITTER_BUFFER", cfg.Audio.JitterBuffer)
	cfg.Audio.Output = envOrDefault("AUDIO_OUTPUT", cfg.Audio.Output)
	cfg.Audio.LevelInterval = envOrDefaultDuration("AUDIO_LEVEL_INTERVAL", cfg.Audio.LevelInterval)

	cfg.Transcript.BrandName = envOrDefault("TRANSCRIPT_BRAND_NAME", cfg.Transcript.BrandName)
	cfg.Transcript.ProhibitedTokens = envOrDefaultList("TRANSCRIPT_PROHIBITED_TOKENS", cfg.Transcript.ProhibitedTokens)

	cfg.UI.Enabled = envOrDefaultBool("UI_ENABLED", cfg.UI.Enabled)
	cfg.UI.Addr = envOrDefault("UI_ADDR", cfg.UI.Addr)
	cfg.UI.ErrorClearDelay = envOrDefaultDuration("UI_ERROR_CLEAR_DELAY", cfg.UI.ErrorClearDelay)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicLifecycle = envOrDefault("KAFKA_TOPIC_LIFECYCLE", cfg.Kafka.TopicLifecycle)
	cfg.Kafka.TopicState = envOrDefault("KAFKA_TOPIC_STATE", cfg.Kafka.TopicState)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Observability.MetricsAddr)

	return cfg
}

// Validate reports configuration values the client cannot run with.
func (c *Config) Validate() error {
	if !models.IsValidVoice(c.Agent.Voice) {
		return fmt.Errorf("invalid voice %q (expected one of %s)", c.Agent.Voice, strings.Join(models.Voices, ", "))
	}
	if !models.IsValidModel(c.Agent.Model) {
		return fmt.Errorf("invalid model %q (expected one of %s)", c.Agent.Model, strings.Join(models.Models, ", "))
	}
	switch c.Agent.Mode {
	case "websocket", "mock":
	default:
		return fmt.Errorf("invalid agent mode %q", c.Agent.Mode)
	}
	if c.Audio.TargetSampleRate <= 0 || c.Audio.InputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.Audio.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive")
	}
	if c.Audio.Input == "wav" && c.Audio.InputFile == "" {
		return fmt.Errorf("AUDIO_INPUT_FILE is required for wav input")
	}
	return nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
