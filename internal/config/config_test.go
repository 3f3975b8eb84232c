package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.VoiceProvider != "auto" {
		t.Fatalf("VoiceProvider = %q, want %q", cfg.VoiceProvider, "auto")
	}
	if cfg.ElevenLabsSTTCommitStrategy != "vad" {
		t.Fatalf("ElevenLabsSTTCommitStrategy = %q, want %q", cfg.ElevenLabsSTTCommitStrategy, "vad")
	}
	if cfg.ConsoleInactivityTimeout != 10*time.Minute || cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("timeouts = %s / %s", cfg.ConsoleInactivityTimeout, cfg.ConnectTimeout)
	}
	if cfg.MicrophoneAutoGrant {
		t.Fatalf("MicrophoneAutoGrant should default to false")
	}
	if cfg.DefaultAgentID != "" {
		t.Fatalf("DefaultAgentID = %q, want empty default", cfg.DefaultAgentID)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_PROVIDER", "Mock")
	t.Setenv("ELEVENLABS_DEFAULT_AGENT_ID", "  agent_123 ")
	t.Setenv("CONSOLE_BACKEND_URL", "http://localhost:9000/api/")
	t.Setenv("MICROPHONE_AUTO_GRANT", "yes")
	t.Setenv("CONSOLE_CONNECT_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VoiceProvider != "mock" {
		t.Fatalf("VoiceProvider = %q, want %q", cfg.VoiceProvider, "mock")
	}
	if cfg.DefaultAgentID != "agent_123" {
		t.Fatalf("DefaultAgentID = %q, want %q", cfg.DefaultAgentID, "agent_123")
	}
	if cfg.BackendURL != "http://localhost:9000/api" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if !cfg.MicrophoneAutoGrant || cfg.ConnectTimeout != 3*time.Second {
		t.Fatalf("auto grant = %v, connect timeout = %s", cfg.MicrophoneAutoGrant, cfg.ConnectTimeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"APP_CONSOLE_INACTIVITY_TIMEOUT", "10s"},
		{"APP_SHUTDOWN_TIMEOUT", "soon"},
		{"CONSOLE_CONNECT_TIMEOUT", "0s"},
		{"MICROPHONE_AUTO_GRANT", "maybe"},
		{"VOICE_PROVIDER", "local"},
		{"LOG_FORMAT", "xml"},
		{"LOG_LEVEL", "trace"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_CONSOLE_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"VOICE_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_API_BASE_URL",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_STT_COMMIT_STRATEGY",
		"ELEVENLABS_DEFAULT_AGENT_ID",
		"CONSOLE_BACKEND_URL",
		"CONSOLE_CONNECT_TIMEOUT",
		"MICROPHONE_AUTO_GRANT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
