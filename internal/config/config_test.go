package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"CONFIG_FILE", "SERVICE_NAME", "SERVICE_PRINCIPAL", "ENV",
	"API_URL", "API_AUTH_TOKEN", "API_TIMEOUT",
	"AGENT_MODE", "WALLET_ADDRESS", "USER_ID", "VOICE", "VOICE_MODEL", "TEMPERATURE", "AGENT_CONNECT_TIMEOUT",
	"AUDIO_INPUT", "AUDIO_INPUT_FILE", "AUDIO_INPUT_SAMPLE_RATE", "AUDIO_FRAME_SIZE",
	"AUDIO_TARGET_SAMPLE_RATE", "AUDIO_JITTER_BUFFER", "AUDIO_OUTPUT", "AUDIO_LEVEL_INTERVAL",
	"TRANSCRIPT_BRAND_NAME", "TRANSCRIPT_PROHIBITED_TOKENS",
	"UI_ENABLED", "UI_ADDR", "UI_ERROR_CLEAR_DELAY",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range configEnvVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "svc-voice-companion" {
		t.Errorf("expected default principal 'svc-voice-companion', got %s", cfg.Service.Principal)
	}
	if cfg.Backend.URL != "http://localhost:5000" {
		t.Errorf("expected default backend URL, got %s", cfg.Backend.URL)
	}
	if cfg.Agent.Mode != "websocket" {
		t.Errorf("expected default agent mode 'websocket', got %s", cfg.Agent.Mode)
	}
	if cfg.Agent.Voice != "Ara" {
		t.Errorf("expected default voice 'Ara', got %s", cfg.Agent.Voice)
	}
	if cfg.Agent.Model != "grok-4-1-fast-non-reasoning" {
		t.Errorf("expected default model, got %s", cfg.Agent.Model)
	}
	if cfg.Audio.FrameSize != 4096 {
		t.Errorf("expected default frame size 4096, got %d", cfg.Audio.FrameSize)
	}
	if cfg.Audio.TargetSampleRate != 24000 {
		t.Errorf("expected default target sample rate 24000, got %d", cfg.Audio.TargetSampleRate)
	}
	if cfg.Audio.JitterBuffer != 20*time.Millisecond {
		t.Errorf("expected default jitter 20ms, got %v", cfg.Audio.JitterBuffer)
	}
	if cfg.UI.ErrorClearDelay != 5*time.Second {
		t.Errorf("expected default error clear delay 5s, got %v", cfg.UI.ErrorClearDelay)
	}
	if len(cfg.Transcript.ProhibitedTokens) != 2 {
		t.Errorf("expected 2 default prohibited tokens, got %v", cfg.Transcript.ProhibitedTokens)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_URL", "https://api.example.com")
	t.Setenv("AGENT_MODE", "mock")
	t.Setenv("WALLET_ADDRESS", "wallet-1")
	t.Setenv("VOICE", "Rex")
	t.Setenv("VOICE_MODEL", "grok-4-1-fast-reasoning")
	t.Setenv("TEMPERATURE", "0.7")
	t.Setenv("AUDIO_INPUT_SAMPLE_RATE", "44100")
	t.Setenv("AUDIO_JITTER_BUFFER", "40ms")
	t.Setenv("TRANSCRIPT_PROHIBITED_TOKENS", "Grok, xAI ,,Other")
	t.Setenv("UI_ENABLED", "false")
	t.Setenv("KAFKA_ENABLED", "1")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Backend.URL != "https://api.example.com" {
		t.Errorf("expected custom backend URL, got %s", cfg.Backend.URL)
	}
	if cfg.Agent.Mode != "mock" {
		t.Errorf("expected agent mode 'mock', got %s", cfg.Agent.Mode)
	}
	if cfg.Agent.WalletAddress != "wallet-1" {
		t.Errorf("expected wallet 'wallet-1', got %s", cfg.Agent.WalletAddress)
	}
	if cfg.Agent.Voice != "Rex" {
		t.Errorf("expected voice 'Rex', got %s", cfg.Agent.Voice)
	}
	if cfg.Agent.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", cfg.Agent.Temperature)
	}
	if cfg.Audio.InputSampleRate != 44100 {
		t.Errorf("expected input sample rate 44100, got %d", cfg.Audio.InputSampleRate)
	}
	if cfg.Audio.JitterBuffer != 40*time.Millisecond {
		t.Errorf("expected jitter 40ms, got %v", cfg.Audio.JitterBuffer)
	}
	if len(cfg.Transcript.ProhibitedTokens) != 3 || cfg.Transcript.ProhibitedTokens[1] != "xAI" {
		t.Errorf("expected trimmed token list, got %v", cfg.Transcript.ProhibitedTokens)
	}
	if cfg.UI.Enabled {
		t.Error("expected UI disabled")
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected Kafka enabled with 2 brokers, got %v %v", cfg.Kafka.Enabled, cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected custom config to validate, got %v", err)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIO_INPUT_SAMPLE_RATE", "not-a-number")
	t.Setenv("AUDIO_JITTER_BUFFER", "invalid")
	t.Setenv("UI_ENABLED", "invalid")
	t.Setenv("TEMPERATURE", "hot")

	cfg := Load()

	if cfg.Audio.InputSampleRate != 48000 {
		t.Errorf("expected default input sample rate on invalid input, got %d", cfg.Audio.InputSampleRate)
	}
	if cfg.Audio.JitterBuffer != 20*time.Millisecond {
		t.Errorf("expected default jitter on invalid input, got %v", cfg.Audio.JitterBuffer)
	}
	if !cfg.UI.Enabled {
		t.Error("expected default UI enabled on invalid input")
	}
	if cfg.Agent.Temperature != 0 {
		t.Errorf("expected default temperature on invalid input, got %v", cfg.Agent.Temperature)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-client")

	cfg := Load()

	if cfg.Kafka.Principal != "my-client" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_ConfigFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	content := `
agent:
  voice: Eve
  walletAddress: wallet-from-file
audio:
  jitterBuffer: 30ms
transcript:
  brandName: Companion
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("VOICE", "Leo")

	cfg := Load()

	if cfg.Agent.Voice != "Leo" {
		t.Errorf("expected env to override file voice, got %s", cfg.Agent.Voice)
	}
	if cfg.Agent.WalletAddress != "wallet-from-file" {
		t.Errorf("expected wallet from file, got %s", cfg.Agent.WalletAddress)
	}
	if cfg.Audio.JitterBuffer != 30*time.Millisecond {
		t.Errorf("expected jitter from file, got %v", cfg.Audio.JitterBuffer)
	}
	if cfg.Transcript.BrandName != "Companion" {
		t.Errorf("expected brand from file, got %s", cfg.Transcript.BrandName)
	}
	if cfg.Audio.FrameSize != 4096 {
		t.Errorf("expected untouched default frame size, got %d", cfg.Audio.FrameSize)
	}
}

func TestLoad_MissingConfigFile_UsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()

	if cfg.Agent.Voice != "Ara" {
		t.Errorf("expected default voice, got %s", cfg.Agent.Voice)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad voice", func(c *Config) { c.Agent.Voice = "Bob" }, true},
		{"bad model", func(c *Config) { c.Agent.Model = "gpt" }, true},
		{"bad mode", func(c *Config) { c.Agent.Mode = "grpc" }, true},
		{"zero frame size", func(c *Config) { c.Audio.FrameSize = 0 }, true},
		{"wav without file", func(c *Config) { c.Audio.Input = "wav" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			t.Setenv(key, tt.envValue)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
