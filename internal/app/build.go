package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ent0n29/agentconsole/internal/archive"
	"github.com/ent0n29/agentconsole/internal/config"
	"github.com/ent0n29/agentconsole/internal/console"
	"github.com/ent0n29/agentconsole/internal/httpapi"
	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/session"
	"github.com/ent0n29/agentconsole/internal/tokens"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Consoles *session.Manager
	Metrics  *observability.Metrics
	Voice    VoiceInfo

	// Cleanup closes every console and then the archive.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	broker := tokens.NewBroker(cfg.BackendURL, &http.Client{Timeout: cfg.ConnectTimeout})
	logger := observability.Logger()

	consoles := session.NewManager(func(consoleID, userID string, mic *voice.PushMicrophone) (*console.Coordinator, error) {
		return console.NewCoordinator(console.Options{
			ConsoleID:     consoleID,
			UserID:        userID,
			Tokens:        broker,
			Conversation:  voiceSetup.conversation,
			Transcription: voiceSetup.transcription,
			Microphone:    mic,
			Archive:       store,
			Metrics:       metrics,
			Logger:        logger,
		})
	}, cfg.ConsoleInactivityTimeout, cfg.MicrophoneAutoGrant)
	consoles.SetExpireHook(func(c *session.Console) {
		metrics.SessionEvents.WithLabelValues("console_expired").Inc()
		metrics.ActiveConsoles.Set(float64(consoles.ActiveCount()))
		logger.Info("console: expired after inactivity", "console_id", c.ID, "user_id", c.UserID)
	})

	api := httpapi.New(cfg, consoles, voiceSetup.issuer, store, metrics)

	cleanup := func() error {
		consoles.CloseAll()
		metrics.ActiveConsoles.Set(0)
		if err := store.Close(); err != nil {
			return fmt.Errorf("archive close failed: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Consoles: consoles,
		Metrics:  metrics,
		Voice: VoiceInfo{
			Provider: cfg.VoiceProvider,
			Detail:   voiceSetup.detail,
		},
		Cleanup: cleanup,
	}, nil
}
