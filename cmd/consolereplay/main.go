package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentconsole/internal/audio"
	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/protocol"
)

type options struct {
	baseURL      string
	userID       string
	agentID      string
	turns        int
	texts        []string
	wavPath      string
	chunkMS      int
	pollInterval time.Duration
	turnTimeout  time.Duration
	verbose      bool
}

type createConsoleResponse struct {
	ConsoleID string `json:"console_id"`
	UserID    string `json:"user_id"`
}

type consoleMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type consoleView struct {
	Status             string           `json:"status"`
	Messages           []consoleMessage `json:"messages"`
	StreamingMessageID string           `json:"streaming_message_id"`
	LastError          string           `json:"last_error"`
	CaptureError       string           `json:"capture_error"`
}

type turnResult struct {
	Input   string
	Reply   string
	Latency time.Duration
}

var defaultTexts = []string{
	"Hello, are you there?",
	"Summarize what I just said.",
	"What should I ask next?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "consolereplay: %v\n", err)
		os.Exit(2)
	}
	results, err := run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consolereplay: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(summarize(results))
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int
	var pollMS int

	fs := flag.NewFlagSet("consolereplay", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "agentconsole base URL")
	fs.StringVar(&cfg.userID, "user-id", "", "user_id for the console (generated when empty)")
	fs.StringVar(&cfg.agentID, "agent-id", "", "agent to converse with (server default when empty)")
	fs.IntVar(&cfg.turns, "turns", 3, "number of turns to replay")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file streamed as microphone audio for every turn instead of texts")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 100, "audio chunk size in milliseconds for -wav")
	fs.IntVar(&pollMS, "poll-ms", 100, "console polling interval in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the agent reply per turn in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	cfg.userID = strings.TrimSpace(cfg.userID)
	cfg.agentID = strings.TrimSpace(cfg.agentID)
	cfg.wavPath = strings.TrimSpace(cfg.wavPath)
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if pollMS < 10 {
		pollMS = 10
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.pollInterval = time.Duration(pollMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultTexts...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) ([]turnResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.turns+2)*cfg.turnTimeout)
	defer cancel()

	var clip audio.Clip
	if cfg.wavPath != "" {
		data, err := os.ReadFile(cfg.wavPath)
		if err != nil {
			return nil, fmt.Errorf("read wav: %w", err)
		}
		if clip, err = audio.DecodeWAV(data); err != nil {
			return nil, err
		}
	}

	client := &consoleClient{http: &http.Client{Timeout: 30 * time.Second}, baseURL: cfg.baseURL}
	created, err := client.create(ctx, cfg.userID)
	if err != nil {
		return nil, fmt.Errorf("create console: %w", err)
	}
	consoleID := created.ConsoleID
	defer func() {
		_ = client.do(context.Background(), http.MethodDelete, "/v1/consoles/"+url.PathEscape(consoleID), nil, nil)
	}()
	if cfg.verbose {
		fmt.Printf("consolereplay: console=%s user=%s turns=%d\n", consoleID, created.UserID, cfg.turns)
	}

	if err := client.do(ctx, http.MethodPost, client.consolePath(consoleID, "/start"), map[string]string{"agent_id": cfg.agentID}, nil); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	defer func() {
		_ = client.do(context.Background(), http.MethodPost, client.consolePath(consoleID, "/stop"), nil, nil)
	}()

	var conn *websocket.Conn
	if cfg.wavPath != "" {
		conn, err = client.dialMicrophone(ctx, consoleID)
		if err != nil {
			return nil, fmt.Errorf("open console websocket: %w", err)
		}
		defer conn.Close()
		go drain(conn)
	}

	results := make([]turnResult, 0, cfg.turns)
	seq := 0
	for i := 0; i < cfg.turns; i++ {
		before, err := client.view(ctx, consoleID)
		if err != nil {
			return results, fmt.Errorf("turn %d read console: %w", i+1, err)
		}
		seen := agentMessageIDs(before)

		input := cfg.texts[i%len(cfg.texts)]
		started := time.Now()
		if conn != nil {
			input = fmt.Sprintf("%s (%dms audio)", cfg.wavPath, clip.DurationMS())
			if err := streamClip(conn, consoleID, clip, cfg.chunkMS, &seq); err != nil {
				return results, fmt.Errorf("turn %d stream audio: %w", i+1, err)
			}
		} else if err := client.do(ctx, http.MethodPost, client.consolePath(consoleID, "/messages"), map[string]string{"text": input}, nil); err != nil {
			return results, fmt.Errorf("turn %d send message: %w", i+1, err)
		}

		reply, err := client.awaitReply(ctx, consoleID, seen, cfg.pollInterval, cfg.turnTimeout)
		if err != nil {
			return results, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		res := turnResult{Input: input, Reply: reply, Latency: time.Since(started)}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("consolereplay: turn %d/%d latency=%s input=%q reply=%q\n", i+1, cfg.turns, res.Latency.Round(time.Millisecond), res.Input, res.Reply)
		}
	}
	return results, nil
}

type consoleClient struct {
	http    *http.Client
	baseURL string
}

func (c *consoleClient) consolePath(consoleID, suffix string) string {
	return "/v1/consoles/" + url.PathEscape(consoleID) + suffix
}

func (c *consoleClient) create(ctx context.Context, userID string) (createConsoleResponse, error) {
	var out createConsoleResponse
	if err := c.do(ctx, http.MethodPost, "/v1/consoles", map[string]string{"user_id": userID}, &out); err != nil {
		return createConsoleResponse{}, err
	}
	if strings.TrimSpace(out.ConsoleID) == "" {
		return createConsoleResponse{}, fmt.Errorf("missing console_id in response")
	}
	return out, nil
}

func (c *consoleClient) view(ctx context.Context, consoleID string) (consoleView, error) {
	var out consoleView
	err := c.do(ctx, http.MethodGet, c.consolePath(consoleID, ""), nil, &out)
	return out, err
}

// awaitReply polls until an agent message outside seen has finished streaming.
func (c *consoleClient) awaitReply(ctx context.Context, consoleID string, seen map[string]struct{}, every, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		v, err := c.view(ctx, consoleID)
		if err != nil {
			return "", err
		}
		if v.Status == "error" {
			return "", fmt.Errorf("console error: %s", v.LastError)
		}
		if v.CaptureError != "" {
			return "", fmt.Errorf("capture error: %s", v.CaptureError)
		}
		for i := len(v.Messages) - 1; i >= 0; i-- {
			m := v.Messages[i]
			if m.Role != "agent" {
				continue
			}
			if _, ok := seen[m.ID]; ok {
				break
			}
			if m.ID != v.StreamingMessageID {
				return m.Text, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no agent reply within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *consoleClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *consoleClient) dialMicrophone(ctx context.Context, consoleID string) (*websocket.Conn, error) {
	wsURL, err := wsURLForConsole(c.baseURL, consoleID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	start := protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		ConsoleID: consoleID,
		Action:    protocol.ActionStartCapture,
		TSMs:      time.Now().UnixMilli(),
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func wsURLForConsole(baseURL, consoleID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/consoles/" + url.PathEscape(consoleID) + "/ws"
	return u.String(), nil
}

// streamClip sends clip as audio chunks. The last chunk commits the utterance.
func streamClip(conn *websocket.Conn, consoleID string, clip audio.Clip, chunkMS int, seq *int) error {
	chunks := clip.Chunks(chunkMS)
	if len(chunks) == 0 {
		chunks = [][]byte{nil}
	}
	for i, chunk := range chunks {
		*seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			ConsoleID:   consoleID,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
			SampleRate:  clip.SampleRate,
			Commit:      i == len(chunks)-1,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// drain discards server pushes so the websocket keeps answering pings.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func agentMessageIDs(v consoleView) map[string]struct{} {
	out := make(map[string]struct{}, len(v.Messages))
	for _, m := range v.Messages {
		if m.Role == "agent" {
			out[m.ID] = struct{}{}
		}
	}
	return out
}

func summarize(results []turnResult) string {
	if len(results) == 0 {
		return "consolereplay: no turns completed"
	}
	ms := make([]float64, 0, len(results))
	for _, r := range results {
		ms = append(ms, float64(r.Latency.Microseconds())/1000)
	}
	sort.Float64s(ms)
	return fmt.Sprintf("consolereplay: turns=%d p50=%.1fms p95=%.1fms max=%.1fms",
		len(results),
		observability.Quantile(ms, 0.50),
		observability.Quantile(ms, 0.95),
		ms[len(ms)-1],
	)
}
