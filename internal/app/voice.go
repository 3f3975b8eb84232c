package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/agentconsole/internal/config"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type voiceSetup struct {
	conversation     voice.ConversationProvider
	transcription    voice.TranscriptionProvider
	issuer           voice.TokenIssuer
	resolvedProvider string
	detail           string
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	tryElevenLabs := func() (voiceSetup, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return voiceSetup{}, false
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:         cfg.ElevenLabsAPIKey,
			APIBaseURL:     cfg.ElevenLabsAPIBaseURL,
			WSBaseURL:      cfg.ElevenLabsWSBaseURL,
			STTModelID:     cfg.ElevenLabsSTTModel,
			CommitStrategy: cfg.ElevenLabsSTTCommitStrategy,
			ConnectTimeout: cfg.ConnectTimeout,
		})
		return voiceSetup{
			conversation:     p,
			transcription:    p,
			issuer:           p,
			resolvedProvider: "elevenlabs",
			detail:           "elevenlabs conversational agents + realtime scribe",
		}, true
	}

	mock := func(detail string) voiceSetup {
		p := voice.NewMockProvider()
		return voiceSetup{
			conversation:     p,
			transcription:    p,
			issuer:           p,
			resolvedProvider: "mock",
			detail:           detail,
		}
	}

	switch voiceMode {
	case "elevenlabs":
		if setup, ok := tryElevenLabs(); ok {
			return setup, nil
		}
		return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
	case "mock":
		return mock("mock"), nil
	case "auto":
		if setup, ok := tryElevenLabs(); ok {
			return setup, nil
		}
		return mock("mock (no elevenlabs key)"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
	}
}
