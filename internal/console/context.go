package console

import (
	"time"

	"github.com/ent0n29/agentconsole/internal/policy"
	"github.com/ent0n29/agentconsole/internal/tokens"
	"github.com/ent0n29/agentconsole/internal/transcript"
)

// TokenMetadata describes the conversation token of the latest Start. The
// token itself is masked.
type TokenMetadata struct {
	MaskedToken string     `json:"masked_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TTLSeconds  *int       `json:"ttl_seconds,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}

// Snapshot is a read-only view of a console.
type Snapshot struct {
	ConsoleID          string                    `json:"console_id,omitempty"`
	UserID             string                    `json:"user_id"`
	AgentID            string                    `json:"agent_id,omitempty"`
	SessionID          string                    `json:"session_id,omitempty"`
	Status             Status                    `json:"status"`
	ConversationState  ConversationState         `json:"conversation_state"`
	ConversationLabel  string                    `json:"conversation_label"`
	TranscriptionState TranscriptionState        `json:"transcription_state"`
	TranscriptionLabel string                    `json:"transcription_label"`
	Mode               string                    `json:"mode,omitempty"`
	Messages           []transcript.Message      `json:"messages"`
	StreamingMessageID string                    `json:"streaming_message_id,omitempty"`
	PartialTranscript  string                    `json:"partial_transcript,omitempty"`
	History            []transcript.HistoryEntry `json:"history"`
	Token              *TokenMetadata            `json:"token,omitempty"`
	LastError          string                    `json:"last_error,omitempty"`
	CaptureError       string                    `json:"capture_error,omitempty"`
	Starting           bool                      `json:"starting"`
	CaptureStarting    bool                      `json:"capture_starting"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// sessionContext is the coordinator's mutable state. It is only touched with
// the coordinator lock held.
type sessionContext struct {
	log     *transcript.Assembler
	history *transcript.History

	agentID         string
	sessionID       string
	mode            string
	token           *TokenMetadata
	lastError       string
	captureError    string
	starting        bool
	captureStarting bool
	updatedAt       time.Time
}

func newSessionContext() sessionContext {
	return sessionContext{
		log:       transcript.NewAssembler(transcript.MaxMessages),
		history:   transcript.NewHistory(transcript.HistoryCapacity),
		updatedAt: time.Now().UTC(),
	}
}

func (c *sessionContext) recordToken(tok tokens.SessionToken) {
	c.token = &TokenMetadata{
		MaskedToken: policy.MaskToken(tok.Token),
		ExpiresAt:   tok.ExpiresAt,
		TTLSeconds:  tok.TTLSeconds,
		FetchedAt:   tok.FetchedAt,
	}
}

func (c *sessionContext) beginStart() {
	c.starting = true
	c.lastError = ""
}

func (c *sessionContext) connected(agentID, sessionID string) {
	c.starting = false
	c.agentID = agentID
	c.sessionID = sessionID
	c.mode = ""
}

// disconnected clears the session identity. The streaming pointer is closed
// by the caller so the closed message can be archived.
func (c *sessionContext) disconnected() {
	c.starting = false
	c.sessionID = ""
	c.mode = ""
}

func (c *sessionContext) fail(msg string) {
	c.starting = false
	c.lastError = msg
}

func (c *sessionContext) beginCapture() {
	c.captureStarting = true
	c.captureError = ""
}

func (c *sessionContext) captureFailed(msg string) {
	c.captureStarting = false
	c.captureError = msg
}

func (c *sessionContext) touch() {
	c.updatedAt = time.Now().UTC()
}
