package console

import (
	"context"
	"strings"
	"sync"

	"github.com/ent0n29/agentconsole/internal/reliability"
	"github.com/ent0n29/agentconsole/internal/voice"
)

// ConversationSession drives the agent conversation channel. Every connection
// attempt gets a new generation; events and completions from an older
// generation are discarded.
type ConversationSession struct {
	provider voice.ConversationProvider
	dispatch func(Event)

	mu        sync.Mutex
	state     ConversationState
	gen       uint64
	sessionID string
	channel   voice.ConversationChannel
	events    <-chan voice.ConversationEvent
	listening bool
	cancel    context.CancelFunc
}

func NewConversationSession(provider voice.ConversationProvider, dispatch func(Event)) *ConversationSession {
	if dispatch == nil {
		dispatch = func(Event) {}
	}
	return &ConversationSession{provider: provider, dispatch: dispatch, state: ConversationIdle}
}

// Connect opens the conversation channel. Events are held until Listen is called.
func (s *ConversationSession) Connect(ctx context.Context, agentID, token, userID string) (string, error) {
	const op = "connect conversation"
	s.mu.Lock()
	if s.state == ConversationConnecting || s.state == ConversationConnected {
		s.mu.Unlock()
		return "", reliability.StateError(op, "conversation is already "+string(s.state))
	}
	// An End that ran before this attempt began cancels ctx first; the
	// attempt must not start at all in that case.
	if ctx.Err() != nil {
		s.mu.Unlock()
		return "", reliability.StateError(op, "connection attempt cancelled")
	}
	s.gen++
	gen := s.gen
	connectCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = ConversationConnecting
	s.sessionID = ""
	s.mu.Unlock()

	ch, events, err := s.provider.StartConversation(connectCtx, voice.ConversationConfig{
		AgentID: strings.TrimSpace(agentID),
		Token:   token,
		UserID:  userID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		cancel()
		if err == nil {
			_ = ch.Close()
			go drainConversation(events)
		}
		return "", reliability.StateError(op, "connection attempt cancelled")
	}
	if err != nil {
		cancel()
		s.cancel = nil
		s.state = ConversationError
		return "", reliability.Wrap(reliability.KindNetwork, op, err)
	}
	s.channel = ch
	s.events = events
	s.listening = false
	s.sessionID = ch.ConversationID()
	s.state = ConversationConnected
	return s.sessionID, nil
}

// Listen starts delivering events of the current connection, in order, to dispatch.
func (s *ConversationSession) Listen() {
	s.mu.Lock()
	if s.events == nil || s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = true
	gen, events := s.gen, s.events
	s.mu.Unlock()

	go s.pump(gen, events)
}

func (s *ConversationSession) pump(gen uint64, events <-chan voice.ConversationEvent) {
	for ev := range events {
		if out, ok := conversationEvent(gen, ev); ok {
			s.dispatch(out)
		}
	}
}

// SendUserMessage forwards text to the agent. It never touches the transcript.
func (s *ConversationSession) SendUserMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if _, err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	ch := s.channel
	s.mu.Unlock()

	return reliability.Wrap(reliability.KindNetwork, "send user message", ch.SendUserMessage(ctx, text))
}

// sendable returns the generation a send would reach.
func (s *ConversationSession) sendable() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendableLocked()
}

func (s *ConversationSession) sendableLocked() (uint64, error) {
	if s.state != ConversationConnected || s.channel == nil {
		return 0, reliability.StateError("send user message", "Connect to the agent before sending messages.")
	}
	return s.gen, nil
}

// current reports whether gen is still the connected generation.
func (s *ConversationSession) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == ConversationConnected && s.channel != nil
}

// SendActivityPing tells the agent the user is active. Failures are ignored.
func (s *ConversationSession) SendActivityPing(ctx context.Context) {
	s.mu.Lock()
	ch := s.channel
	connected := s.state == ConversationConnected
	s.mu.Unlock()
	if !connected || ch == nil {
		return
	}
	_ = ch.SendActivity(ctx)
}

// End tears down the channel from any state and cancels an in-flight Connect.
func (s *ConversationSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.teardownLocked()
	if s.state != ConversationIdle {
		s.state = ConversationDisconnected
	}
}

func (s *ConversationSession) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.channel != nil {
		_ = s.channel.Close()
		if !s.listening {
			go drainConversation(s.events)
		}
	}
	s.channel = nil
	s.events = nil
	s.listening = false
	s.sessionID = ""
}

// apply folds a delivered event into the session state. It reports false for
// events of a superseded connection.
func (s *ConversationSession) apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.gen != s.gen || s.channel == nil {
		return false
	}
	// Error events are reported but leave the connection up; only a closed
	// transport ends it.
	if ev.Kind == EventConversationClosed {
		s.channel = nil
		s.teardownLocked()
		if ev.Fault {
			s.state = ConversationError
		} else {
			s.state = ConversationDisconnected
		}
	}
	return true
}

func (s *ConversationSession) State() ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ConversationSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func drainConversation(events <-chan voice.ConversationEvent) {
	if events == nil {
		return
	}
	for range events {
	}
}
