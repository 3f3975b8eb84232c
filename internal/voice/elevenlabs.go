package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentconsole/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey         string
	APIBaseURL     string
	WSBaseURL      string
	STTModelID     string
	CommitStrategy string
	ConnectTimeout time.Duration
	HTTPClient     *http.Client
}

// ElevenLabsProvider implements the conversation and transcription channels and
// the backend token issuer against the ElevenLabs API.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v2_realtime"
	}
	if strings.TrimSpace(cfg.CommitStrategy) == "" {
		cfg.CommitStrategy = "vad"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
	}
}

func (p *ElevenLabsProvider) StartConversation(ctx context.Context, cfg ConversationConfig) (ConversationChannel, <-chan ConversationEvent, error) {
	const op = "start conversation"
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/convai/conversation")
	if err != nil {
		return nil, nil, reliability.Wrap(reliability.KindProtocol, op, err)
	}
	q := u.Query()
	q.Set("agent_id", cfg.AgentID)
	q.Set("conversation_signature", cfg.Token)
	u.RawQuery = q.Encode()

	conn, err := p.dial(ctx, op, u.String())
	if err != nil {
		return nil, nil, err
	}

	initiation := map[string]any{"type": "conversation_initiation_client_data"}
	if strings.TrimSpace(cfg.UserID) != "" {
		initiation["user_id"] = cfg.UserID
	}
	if err := conn.WriteJSON(initiation); err != nil {
		_ = conn.Close()
		return nil, nil, reliability.Wrap(reliability.KindNetwork, op, err)
	}

	conversationID, err := p.awaitInitiation(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	events := make(chan ConversationEvent, 256)
	s := &elevenConversation{
		conn:   conn,
		id:     conversationID,
		events: events,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, events, nil
}

// awaitInitiation reads until the server acknowledges the conversation.
func (p *ElevenLabsProvider) awaitInitiation(ctx context.Context, conn *websocket.Conn) (string, error) {
	const op = "conversation handshake"
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.ConnectTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", reliability.Wrap(reliability.KindNetwork, op, ctx.Err())
			}
			return "", reliability.Wrap(reliability.KindNetwork, op, err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", reliability.Wrap(reliability.KindProtocol, op, err)
		}
		msgType := asString(raw["type"])
		switch msgType {
		case "conversation_initiation_metadata":
			meta := asMap(raw["conversation_initiation_metadata_event"])
			id := strings.TrimSpace(asString(meta["conversation_id"]))
			if id == "" {
				return "", reliability.ProtocolError(op, "initiation metadata without conversation_id")
			}
			return id, nil
		case "ping":
			// Servers may ping before the ack; answering keeps the socket alive.
			_ = conn.WriteJSON(pongFor(raw))
		case "error":
			return "", reliability.New(reliability.KindAuth, op, conversationErrorDetail(raw))
		default:
			if kind := reliability.ClassifyRealtimeMessageType(msgType); kind != reliability.KindProtocol {
				return "", reliability.New(kind, op, conversationErrorDetail(raw))
			}
		}
	}
}

func (p *ElevenLabsProvider) StartTranscription(ctx context.Context, cfg TranscriptionConfig, audio AudioSource) (TranscriptionChannel, <-chan TranscriptionEvent, error) {
	const op = "start transcription"
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, nil, reliability.Wrap(reliability.KindProtocol, op, err)
	}
	q := u.Query()
	q.Set("model_id", p.cfg.STTModelID)
	q.Set("commit_strategy", p.cfg.CommitStrategy)
	q.Set("token", cfg.Token)
	if cfg.SampleRate > 0 {
		q.Set("audio_format", "pcm_"+strconv.Itoa(cfg.SampleRate))
	}
	u.RawQuery = q.Encode()

	conn, err := p.dial(ctx, op, u.String())
	if err != nil {
		return nil, nil, err
	}

	events := make(chan TranscriptionEvent, 256)
	s := &elevenScribe{
		conn:       conn,
		events:     events,
		done:       make(chan struct{}),
		sampleRate: cfg.SampleRate,
	}
	go s.readLoop()
	if audio != nil {
		go s.pumpAudio(audio.Frames())
	}
	return s, events, nil
}

func (p *ElevenLabsProvider) dial(ctx context.Context, op, target string) (*websocket.Conn, error) {
	conn, resp, err := p.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, reliability.New(reliability.ClassifyHTTPStatus(resp.StatusCode), op, fmt.Sprintf("dial status %d", resp.StatusCode))
		}
		return nil, reliability.Wrap(reliability.KindNetwork, op, err)
	}
	return conn, nil
}

// IssueConversationToken mints a conversation token for a private agent.
func (p *ElevenLabsProvider) IssueConversationToken(ctx context.Context, agentID, userID string) (IssuedToken, error) {
	const op = "issue conversation token"
	u, err := url.Parse(strings.TrimRight(p.cfg.APIBaseURL, "/") + "/v1/convai/conversation/token")
	if err != nil {
		return IssuedToken{}, reliability.Wrap(reliability.KindProtocol, op, err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	if strings.TrimSpace(userID) != "" {
		q.Set("participant_name", userID)
	}
	u.RawQuery = q.Encode()
	return p.issue(ctx, op, http.MethodGet, u.String())
}

// IssueScribeToken mints a single-use realtime transcription token.
func (p *ElevenLabsProvider) IssueScribeToken(ctx context.Context) (IssuedToken, error) {
	const op = "issue scribe token"
	return p.issue(ctx, op, http.MethodPost, strings.TrimRight(p.cfg.APIBaseURL, "/")+"/v1/single-use-token/realtime_scribe")
}

func (p *ElevenLabsProvider) issue(ctx context.Context, op, method, target string) (IssuedToken, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return IssuedToken{}, reliability.Wrap(reliability.KindNetwork, op, err)
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	res, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return IssuedToken{}, reliability.Wrap(reliability.KindNetwork, op, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return IssuedToken{}, reliability.New(
			reliability.ClassifyHTTPStatus(res.StatusCode),
			op,
			fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
		)
	}

	var parsed struct {
		Token     string  `json:"token"`
		ExpiresAt *string `json:"expires_at"`
		TTL       *int    `json:"ttl"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return IssuedToken{}, reliability.Wrap(reliability.KindProtocol, op, err)
	}
	if strings.TrimSpace(parsed.Token) == "" {
		return IssuedToken{}, reliability.ProtocolError(op, "response did not include a token")
	}
	out := IssuedToken{Token: parsed.Token, TTLSeconds: parsed.TTL}
	if parsed.ExpiresAt != nil {
		if ts, err := time.Parse(time.RFC3339, *parsed.ExpiresAt); err == nil {
			out.ExpiresAt = &ts
		}
	}
	return out, nil
}

// wsWriteTimeout bounds every websocket write to the provider.
const wsWriteTimeout = 10 * time.Second

type elevenConversation struct {
	conn      *websocket.Conn
	id        string
	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   atomic.Bool
	events    chan ConversationEvent
	done      chan struct{}
}

func (s *elevenConversation) ConversationID() string { return s.id }

func (s *elevenConversation) SendUserMessage(ctx context.Context, text string) error {
	if err := s.writeJSON(ctx, map[string]any{"type": "user_message", "text": text}); err != nil {
		return reliability.Wrap(reliability.KindNetwork, "send user message", err)
	}
	return nil
}

func (s *elevenConversation) SendActivity(ctx context.Context) error {
	return s.writeJSON(ctx, map[string]any{"type": "user_activity"})
}

func (s *elevenConversation) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		// WriteControl and Close may run concurrently with a stalled writer,
		// so Close never waits on writeMu.
		s.closing.Store(true)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenConversation) writeJSON(ctx context.Context, payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closing.Load() {
		return errors.New("conversation closed")
	}
	return writeWithDeadline(ctx, s.conn, payload)
}

// writeWithDeadline writes payload within wsWriteTimeout or the ctx deadline,
// whichever is sooner, and aborts the write when ctx is cancelled.
func writeWithDeadline(ctx context.Context, conn *websocket.Conn, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()
	return conn.WriteJSON(payload)
}

func (s *elevenConversation) emit(ev ConversationEvent) {
	ev.Timestamp = nowMillis()
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *elevenConversation) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(closedConversationEvent(err, s.done))
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		switch msgType := asString(raw["type"]); msgType {
		case "user_transcript":
			ev := asMap(raw["user_transcription_event"])
			s.emit(ConversationEvent{Type: ConversationUserTranscript, Text: asString(ev["user_transcript"])})
		case "agent_response":
			ev := asMap(raw["agent_response_event"])
			s.emit(ConversationEvent{Type: ConversationAgentResponse, Text: asString(ev["agent_response"])})
			s.emit(ConversationEvent{Type: ConversationModeChange, Mode: ModeListening})
		case "agent_chat_response_part":
			part := asMap(raw["text_response_part"])
			stage := asString(part["type"])
			if stage == "" {
				stage = "delta"
			}
			if stage == "start" {
				s.emit(ConversationEvent{Type: ConversationModeChange, Mode: ModeSpeaking})
			}
			s.emit(ConversationEvent{Type: ConversationResponsePart, Stage: stage, Text: asString(part["text"])})
		case "interruption":
			s.emit(ConversationEvent{Type: ConversationInterruption})
			s.emit(ConversationEvent{Type: ConversationModeChange, Mode: ModeListening})
		case "ping":
			_ = s.writeJSON(context.Background(), pongFor(raw))
		case "error":
			s.emit(ConversationEvent{Type: ConversationError, Code: msgType, Detail: conversationErrorDetail(raw)})
		case "conversation_initiation_metadata", "audio", "vad_score", "agent_response_correction", "internal_tentative_agent_response", "":
			// Not surfaced in the transcript.
		default:
			if kind := reliability.ClassifyRealtimeMessageType(msgType); kind != reliability.KindProtocol {
				s.emit(ConversationEvent{Type: ConversationError, Code: msgType, Detail: conversationErrorDetail(raw)})
			}
		}
	}
}

func closedConversationEvent(err error, done <-chan struct{}) ConversationEvent {
	select {
	case <-done:
		return ConversationEvent{Type: ConversationClosed}
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ConversationEvent{Type: ConversationClosed}
	}
	return ConversationEvent{Type: ConversationClosed, Fault: true, Detail: err.Error()}
}

type elevenScribe struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	closeOnce  sync.Once
	events     chan TranscriptionEvent
	done       chan struct{}
	sampleRate int
}

func (s *elevenScribe) pumpAudio(frames <-chan AudioFrame) {
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := s.sendAudioChunk(frame); err != nil {
				return
			}
		}
	}
}

func (s *elevenScribe) sendAudioChunk(frame AudioFrame) error {
	sampleRate := frame.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.sampleRate
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": frame.AudioBase64,
		"commit":        frame.Commit,
		"sample_rate":   sampleRate,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeWithDeadline(context.Background(), s.conn, payload)
}

func (s *elevenScribe) emit(ev TranscriptionEvent) {
	ev.Timestamp = nowMillis()
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *elevenScribe) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				s.emit(TranscriptionEvent{Type: TranscriptionClosed})
			default:
				normal := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
				s.emit(TranscriptionEvent{Type: TranscriptionClosed, Fault: !normal, Detail: err.Error()})
			}
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "partial_transcript":
			s.emit(TranscriptionEvent{Type: TranscriptionPartial, Text: asString(raw["text"])})
		case "committed_transcript", "committed_transcript_with_timestamps":
			s.emit(TranscriptionEvent{Type: TranscriptionCommitted, Text: asString(raw["text"]), Source: messageType})
		case "session_started", "", "input_audio_chunk":
			// control
		default:
			detail := asString(raw["error"])
			if detail == "" {
				detail = asString(raw["message"])
			}
			s.emit(TranscriptionEvent{Type: TranscriptionError, Code: messageType, Detail: detail})
		}
	}
}

func (s *elevenScribe) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func pongFor(raw map[string]any) map[string]any {
	ping := asMap(raw["ping_event"])
	return map[string]any{"type": "pong", "event_id": ping["event_id"]}
}

func conversationErrorDetail(raw map[string]any) string {
	if ev := asMap(raw["error_event"]); ev != nil {
		if msg := asString(ev["message"]); msg != "" {
			return msg
		}
	}
	for _, key := range []string{"message", "error", "reason"} {
		if msg := asString(raw[key]); msg != "" {
			return msg
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
