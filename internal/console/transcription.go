package console

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ent0n29/agentconsole/internal/reliability"
	"github.com/ent0n29/agentconsole/internal/voice"
)

// TranscriptionSession drives the speech-to-text channel and owns the
// microphone while connected.
type TranscriptionSession struct {
	provider voice.TranscriptionProvider
	mic      voice.Microphone
	dispatch func(Event)

	mu        sync.Mutex
	state     TranscriptionState
	gen       uint64
	owner     string
	partial   string
	channel   voice.TranscriptionChannel
	events    <-chan voice.TranscriptionEvent
	listening bool
	cancel    context.CancelFunc
}

func NewTranscriptionSession(provider voice.TranscriptionProvider, mic voice.Microphone, dispatch func(Event)) *TranscriptionSession {
	if dispatch == nil {
		dispatch = func(Event) {}
	}
	return &TranscriptionSession{provider: provider, mic: mic, dispatch: dispatch, state: TranscriptionIdle}
}

// Connect acquires the microphone and opens the transcription channel. The
// microphone is released on every failure path.
func (s *TranscriptionSession) Connect(ctx context.Context, token string, constraints voice.MicConstraints) error {
	const op = "connect transcription"
	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return reliability.StateError(op, "transcription is already "+string(s.state))
	}
	s.gen++
	gen := s.gen
	owner := "capture-" + uuid.NewString()
	connectCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.owner = owner
	s.partial = ""
	s.state = TranscriptionConnecting
	s.mu.Unlock()

	audio, err := s.mic.Acquire(connectCtx, owner, constraints)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		cancel()
		s.mic.Release(owner)
		if gen != s.gen {
			return reliability.StateError(op, "connection attempt cancelled")
		}
		s.cancel = nil
		s.owner = ""
		s.state = TranscriptionError
		return reliability.Wrap(reliability.KindPermission, op, err)
	}

	ch, events, err := s.provider.StartTranscription(connectCtx, voice.TranscriptionConfig{
		Token:       token,
		Constraints: constraints,
	}, audio)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		cancel()
		s.mic.Release(owner)
		if err == nil {
			_ = ch.Close()
			go drainTranscription(events)
		}
		return reliability.StateError(op, "connection attempt cancelled")
	}
	if err != nil {
		cancel()
		s.mic.Release(owner)
		s.cancel = nil
		s.owner = ""
		s.state = TranscriptionError
		return reliability.Wrap(reliability.KindNetwork, op, err)
	}
	s.channel = ch
	s.events = events
	s.listening = false
	s.state = TranscriptionConnected
	return nil
}

// Listen starts delivering events of the current connection to dispatch.
func (s *TranscriptionSession) Listen() {
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

func (s *TranscriptionSession) pump(gen uint64, events <-chan voice.TranscriptionEvent) {
	for ev := range events {
		if out, ok := transcriptionEvent(gen, ev); ok {
			s.dispatch(out)
		}
	}
}

// Disconnect is idempotent. It always releases the microphone and clears the partial.
func (s *TranscriptionSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.teardownLocked()
	if s.state != TranscriptionIdle {
		s.state = TranscriptionDisconnected
	}
}

func (s *TranscriptionSession) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.channel != nil {
		_ = s.channel.Close()
		if !s.listening {
			go drainTranscription(s.events)
		}
	}
	if s.owner != "" && s.mic != nil {
		s.mic.Release(s.owner)
	}
	s.owner = ""
	s.partial = ""
	s.channel = nil
	s.events = nil
	s.listening = false
}

func (s *TranscriptionSession) apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.gen != s.gen || s.channel == nil {
		return false
	}
	switch ev.Kind {
	case EventPartialTranscript:
		s.partial = ev.Text
		s.state = TranscriptionTranscribing
	case EventCommittedTranscript:
		s.partial = ""
		s.state = TranscriptionConnected
	case EventTranscriptionError:
		s.teardownLocked()
		s.state = TranscriptionError
	case EventTranscriptionClosed:
		s.teardownLocked()
		if ev.Fault {
			s.state = TranscriptionError
		} else {
			s.state = TranscriptionDisconnected
		}
	}
	return true
}

func (s *TranscriptionSession) State() TranscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Partial returns the latest uncommitted transcript.
func (s *TranscriptionSession) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

func drainTranscription(events <-chan voice.TranscriptionEvent) {
	if events == nil {
		return
	}
	for range events {
	}
}
