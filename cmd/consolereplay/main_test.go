package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/agentconsole/internal/app"
	"github.com/ent0n29/agentconsole/internal/audio"
	"github.com/ent0n29/agentconsole/internal/config"
)

func newConsoleServer(t *testing.T) string {
	t.Helper()
	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	cfg := config.Config{
		VoiceProvider:            "mock",
		MetricsNamespace:         fmt.Sprintf("test_replay_%d", time.Now().UnixNano()),
		BackendURL:               ts.URL + "/api",
		DefaultAgentID:           "agent-replay",
		ConsoleInactivityTimeout: time.Minute,
		ConnectTimeout:           2 * time.Second,
	}
	res, err := app.Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	handler = res.API.Router()
	t.Cleanup(func() {
		_ = res.Cleanup()
		ts.Close()
	})
	return ts.URL
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-base-url", "http://localhost:9000/", "-turns", "2", "-texts", " a | |b ", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://localhost:9000" {
		t.Fatalf("baseURL = %q", cfg.baseURL)
	}
	if strings.Join(cfg.texts, ",") != "a,b" {
		t.Fatalf("texts = %v", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want 1s floor", cfg.turnTimeout)
	}

	if _, err := parseFlags([]string{"-turns", "0"}); err == nil {
		t.Fatalf("parseFlags(-turns 0) error = nil")
	}
	if _, err := parseFlags([]string{"-texts", " | "}); err == nil {
		t.Fatalf("parseFlags(empty texts) error = nil")
	}
	if _, err := parseFlags([]string{"-chunk-ms", "5"}); err == nil {
		t.Fatalf("parseFlags(-chunk-ms 5) error = nil")
	}
}

func TestWSURLForConsole(t *testing.T) {
	got, err := wsURLForConsole("https://example.com/base/", "c 1")
	if err != nil {
		t.Fatalf("wsURLForConsole() error = %v", err)
	}
	if got != "wss://example.com/base/v1/consoles/c%201/ws" {
		t.Fatalf("wsURLForConsole() = %q", got)
	}
	if _, err := wsURLForConsole("ftp://example.com", "c1"); err == nil {
		t.Fatalf("wsURLForConsole(ftp) error = nil")
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize(nil); got != "consolereplay: no turns completed" {
		t.Fatalf("summarize(nil) = %q", got)
	}
	got := summarize([]turnResult{
		{Latency: 30 * time.Millisecond},
		{Latency: 10 * time.Millisecond},
		{Latency: 20 * time.Millisecond},
	})
	if !strings.Contains(got, "turns=3") || !strings.Contains(got, "max=30.0ms") {
		t.Fatalf("summarize() = %q", got)
	}
}

func TestRunTextTurns(t *testing.T) {
	base := newConsoleServer(t)
	results, err := run(options{
		baseURL:      base,
		userID:       "replay-user",
		turns:        3,
		texts:        []string{"hello", "second"},
		chunkMS:      100,
		pollInterval: 10 * time.Millisecond,
		turnTimeout:  3 * time.Second,
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	want := []string{"You said: hello", "You said: second", "You said: hello"}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Reply != want[i] {
			t.Fatalf("results[%d].Reply = %q, want %q", i, r.Reply, want[i])
		}
		if r.Latency <= 0 {
			t.Fatalf("results[%d].Latency = %s", i, r.Latency)
		}
	}
}

func TestRunWAVTurn(t *testing.T) {
	base := newConsoleServer(t)
	clip := audio.Clip{PCM: make([]byte, 16000*2*3/10), SampleRate: 16000}
	for i := range clip.PCM {
		clip.PCM[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "turn.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(clip), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	results, err := run(options{
		baseURL:      base,
		turns:        1,
		texts:        defaultTexts,
		wavPath:      path,
		chunkMS:      100,
		pollInterval: 10 * time.Millisecond,
		turnTimeout:  3 * time.Second,
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if len(results) != 1 || results[0].Reply != "You said: simulated voice input" {
		t.Fatalf("results = %+v", results)
	}
}
