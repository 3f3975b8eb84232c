package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the console daemon.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	ConsoleInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	VoiceProvider string

	ElevenLabsAPIKey            string
	ElevenLabsAPIBaseURL        string
	ElevenLabsWSBaseURL         string
	ElevenLabsSTTModel          string
	ElevenLabsSTTCommitStrategy string
	DefaultAgentID              string

	// BackendURL is where consoles fetch their tokens. It usually points back
	// at this daemon's /api routes.
	BackendURL          string
	ConnectTimeout      time.Duration
	MicrophoneAutoGrant bool

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "agentconsole"),
		LogLevel:             strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		VoiceProvider:        strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		ElevenLabsAPIKey:     stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsAPIBaseURL: envOrDefault("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:  envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsSTTModel:   envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		// Server-side VAD commits utterances; clients may still force a commit.
		ElevenLabsSTTCommitStrategy: envOrDefault("ELEVENLABS_STT_COMMIT_STRATEGY", "vad"),
		DefaultAgentID:              stringsTrimSpace("ELEVENLABS_DEFAULT_AGENT_ID"),
		BackendURL:                  envOrDefault("CONSOLE_BACKEND_URL", "http://127.0.0.1:8080/api"),
		DatabaseURL:                 stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:             15 * time.Second,
		ConsoleInactivityTimeout:    10 * time.Minute,
		ConnectTimeout:              10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConsoleInactivityTimeout, err = durationFromEnv("APP_CONSOLE_INACTIVITY_TIMEOUT", cfg.ConsoleInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("CONSOLE_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.MicrophoneAutoGrant, err = boolFromEnv("MICROPHONE_AUTO_GRANT", false)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConsoleInactivityTimeout < 30*time.Second {
		return Config{}, fmt.Errorf("APP_CONSOLE_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("CONSOLE_CONNECT_TIMEOUT must be positive")
	}
	switch cfg.VoiceProvider {
	case "auto", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("VOICE_PROVIDER must be auto, elevenlabs or mock")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error")
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
