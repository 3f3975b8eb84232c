package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/agentconsole/internal/config"
	"github.com/ent0n29/agentconsole/internal/voice"
)

func TestResolveVoiceProviders(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{name: "auto without key", cfg: config.Config{VoiceProvider: "auto"}, want: "mock"},
		{name: "empty means auto", cfg: config.Config{}, want: "mock"},
		{name: "auto with key", cfg: config.Config{VoiceProvider: "auto", ElevenLabsAPIKey: "xi-test"}, want: "elevenlabs"},
		{name: "explicit mock", cfg: config.Config{VoiceProvider: "mock", ElevenLabsAPIKey: "xi-test"}, want: "mock"},
		{name: "elevenlabs without key", cfg: config.Config{VoiceProvider: "elevenlabs"}, wantErr: true},
		{name: "unknown", cfg: config.Config{VoiceProvider: "local"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setup, err := resolveVoiceProviders(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("resolveVoiceProviders() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveVoiceProviders() error = %v", err)
			}
			if setup.resolvedProvider != tc.want {
				t.Fatalf("resolvedProvider = %q, want %q", setup.resolvedProvider, tc.want)
			}
			if setup.conversation == nil || setup.transcription == nil || setup.issuer == nil {
				t.Fatalf("incomplete setup: %+v", setup)
			}
		})
	}

	setup, _ := resolveVoiceProviders(config.Config{VoiceProvider: "elevenlabs", ElevenLabsAPIKey: "xi-test"})
	if _, ok := setup.conversation.(*voice.ElevenLabsProvider); !ok {
		t.Fatalf("conversation provider = %T, want *voice.ElevenLabsProvider", setup.conversation)
	}
}

func TestBuildWithMockProviders(t *testing.T) {
	cfg := config.Config{
		VoiceProvider:            "auto",
		MetricsNamespace:         fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		BackendURL:               "http://127.0.0.1:1/api",
		ConsoleInactivityTimeout: time.Minute,
		ConnectTimeout:           time.Second,
	}
	res, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Voice.Provider != "mock" || res.Config.VoiceProvider != "mock" {
		t.Fatalf("voice = %+v", res.Voice)
	}
	c, err := res.Consoles.Create("u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.UserID != "u1" {
		t.Fatalf("UserID = %q", c.UserID)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.Consoles.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() after Cleanup = %d", res.Consoles.ActiveCount())
	}
}
