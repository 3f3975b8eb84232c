package voice

import (
	"context"
	"time"
)

type ConversationEventType string

const (
	ConversationUserTranscript ConversationEventType = "user_transcript"
	ConversationAgentResponse  ConversationEventType = "agent_response"
	ConversationResponsePart   ConversationEventType = "agent_chat_response_part"
	ConversationInterruption   ConversationEventType = "interruption"
	ConversationModeChange     ConversationEventType = "mode_change"
	ConversationError          ConversationEventType = "error"
	ConversationClosed         ConversationEventType = "closed"
)

// Agent modes reported by ConversationModeChange.
const (
	ModeSpeaking  = "speaking"
	ModeListening = "listening"
)

type ConversationEvent struct {
	Type ConversationEventType
	Text string
	// Stage is start, delta or stop for ConversationResponsePart.
	Stage  string
	Mode   string
	Code   string
	Detail string
	// Fault marks a ConversationClosed that was not requested by the client.
	Fault     bool
	Timestamp int64
}

type ConversationConfig struct {
	AgentID string
	Token   string
	UserID  string
}

type ConversationChannel interface {
	ConversationID() string
	SendUserMessage(ctx context.Context, text string) error
	SendActivity(ctx context.Context) error
	Close() error
}

// ConversationProvider opens the agent conversation channel. The returned event
// channel is closed after a final ConversationClosed event.
type ConversationProvider interface {
	StartConversation(ctx context.Context, cfg ConversationConfig) (ConversationChannel, <-chan ConversationEvent, error)
}

type TranscriptionEventType string

const (
	TranscriptionPartial   TranscriptionEventType = "partial"
	TranscriptionCommitted TranscriptionEventType = "committed"
	TranscriptionError     TranscriptionEventType = "error"
	TranscriptionClosed    TranscriptionEventType = "closed"
)

type TranscriptionEvent struct {
	Type      TranscriptionEventType
	Text      string
	Source    string
	Code      string
	Detail    string
	Fault     bool
	Timestamp int64
}

type TranscriptionConfig struct {
	Token       string
	Constraints MicConstraints
	SampleRate  int
}

type TranscriptionChannel interface {
	Close() error
}

// TranscriptionProvider streams microphone audio to a speech-to-text backend.
type TranscriptionProvider interface {
	StartTranscription(ctx context.Context, cfg TranscriptionConfig, audio AudioSource) (TranscriptionChannel, <-chan TranscriptionEvent, error)
}

// IssuedToken is a single-use credential minted with the server-side API key.
type IssuedToken struct {
	Token      string
	ExpiresAt  *time.Time
	TTLSeconds *int
}

// TokenIssuer mints single-use credentials for browser-facing sessions.
type TokenIssuer interface {
	IssueConversationToken(ctx context.Context, agentID, userID string) (IssuedToken, error)
	IssueScribeToken(ctx context.Context) (IssuedToken, error)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
