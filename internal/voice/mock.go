package voice

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const mockCommitEvery = 8

// MockProvider is a local fallback used when ElevenLabs is not configured. The
// conversation echoes user messages back as streamed agent fragments.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartConversation(ctx context.Context, _ ConversationConfig) (ConversationChannel, <-chan ConversationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	events := make(chan ConversationEvent, 128)
	s := &mockConversation{
		id:      "mock-conv-" + uuid.NewString(),
		events:  events,
		replies: make(chan string, 32),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, events, nil
}

func (p *MockProvider) StartTranscription(ctx context.Context, _ TranscriptionConfig, audio AudioSource) (TranscriptionChannel, <-chan TranscriptionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	events := make(chan TranscriptionEvent, 64)
	s := &mockTranscription{events: events, done: make(chan struct{})}
	var frames <-chan AudioFrame
	if audio != nil {
		frames = audio.Frames()
	}
	go s.run(frames)
	return s, events, nil
}

func (p *MockProvider) IssueConversationToken(_ context.Context, agentID, _ string) (IssuedToken, error) {
	if strings.TrimSpace(agentID) == "" {
		return IssuedToken{}, errors.New("agent id is required")
	}
	ttl := 900
	return IssuedToken{Token: "mock-conv-token-" + uuid.NewString(), TTLSeconds: &ttl}, nil
}

func (p *MockProvider) IssueScribeToken(_ context.Context) (IssuedToken, error) {
	return IssuedToken{Token: "mock-scribe-token-" + uuid.NewString()}, nil
}

type mockConversation struct {
	id        string
	events    chan ConversationEvent
	replies   chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (s *mockConversation) ConversationID() string { return s.id }

func (s *mockConversation) SendUserMessage(_ context.Context, text string) error {
	select {
	case <-s.done:
		return errors.New("conversation closed")
	default:
	}
	select {
	case s.replies <- text:
		return nil
	case <-s.done:
		return errors.New("conversation closed")
	default:
		return errors.New("mock conversation reply queue full")
	}
}

func (s *mockConversation) SendActivity(_ context.Context) error { return nil }

func (s *mockConversation) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *mockConversation) run() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			s.emit(ConversationEvent{Type: ConversationClosed})
			return
		case text := <-s.replies:
			s.reply(text)
		}
	}
}

func (s *mockConversation) reply(text string) {
	words := strings.Fields("You said: " + strings.TrimSpace(text))
	s.emit(ConversationEvent{Type: ConversationModeChange, Mode: ModeSpeaking})
	for i, w := range words {
		stage := "delta"
		chunk := " " + w
		if i == 0 {
			stage = "start"
			chunk = w
		}
		s.emit(ConversationEvent{Type: ConversationResponsePart, Stage: stage, Text: chunk})
	}
	s.emit(ConversationEvent{Type: ConversationResponsePart, Stage: "stop"})
	s.emit(ConversationEvent{Type: ConversationModeChange, Mode: ModeListening})
}

func (s *mockConversation) emit(ev ConversationEvent) {
	ev.Timestamp = nowMillis()
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.Type == ConversationClosed {
			select {
			case s.events <- ev:
			default:
			}
		}
	}
}

type mockTranscription struct {
	events    chan TranscriptionEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *mockTranscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *mockTranscription) run(frames <-chan AudioFrame) {
	defer close(s.events)
	chunks := 0
	lastInput := ""
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-frames:
			if !ok {
				s.emit(TranscriptionEvent{Type: TranscriptionClosed})
				return
			}
			chunks++
			if frame.AudioBase64 != "" {
				lastInput = frame.AudioBase64
				s.emit(TranscriptionEvent{Type: TranscriptionPartial, Text: "..."})
			}
			if frame.Commit || chunks%mockCommitEvery == 0 {
				if strings.TrimSpace(lastInput) == "" {
					continue
				}
				s.emit(TranscriptionEvent{Type: TranscriptionCommitted, Text: "simulated voice input", Source: "mock_commit"})
				lastInput = ""
			}
		}
	}
}

func (s *mockTranscription) emit(ev TranscriptionEvent) {
	ev.Timestamp = nowMillis()
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
