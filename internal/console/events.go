package console

import (
	"github.com/ent0n29/agentconsole/internal/transcript"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type EventKind string

const (
	EventUserTranscript      EventKind = "user_transcript"
	EventAgentResponse       EventKind = "agent_response"
	EventAgentResponsePart   EventKind = "agent_chat_response_part"
	EventInterruption        EventKind = "interruption"
	EventConversationError   EventKind = "conversation_error"
	EventModeChange          EventKind = "mode_change"
	EventConversationClosed  EventKind = "conversation_closed"
	EventPartialTranscript   EventKind = "partial_transcript"
	EventCommittedTranscript EventKind = "committed_transcript"
	EventTranscriptionError  EventKind = "transcription_error"
	EventTranscriptionClosed EventKind = "transcription_closed"
)

// Event is the single union delivered by both sessions to the coordinator.
type Event struct {
	Kind   EventKind
	Text   string
	Stage  transcript.Stage
	Mode   string
	Code   string
	Detail string
	Fault  bool

	gen uint64
}

func (e Event) fromConversation() bool {
	switch e.Kind {
	case EventPartialTranscript, EventCommittedTranscript, EventTranscriptionError, EventTranscriptionClosed:
		return false
	default:
		return true
	}
}

func conversationEvent(gen uint64, ev voice.ConversationEvent) (Event, bool) {
	out := Event{Text: ev.Text, Mode: ev.Mode, Code: ev.Code, Detail: ev.Detail, Fault: ev.Fault, gen: gen}
	switch ev.Type {
	case voice.ConversationUserTranscript:
		out.Kind = EventUserTranscript
	case voice.ConversationAgentResponse:
		out.Kind = EventAgentResponse
	case voice.ConversationResponsePart:
		out.Kind = EventAgentResponsePart
		out.Stage = transcript.Stage(ev.Stage)
		if out.Stage == "" {
			out.Stage = transcript.StageDelta
		}
	case voice.ConversationInterruption:
		out.Kind = EventInterruption
	case voice.ConversationError:
		out.Kind = EventConversationError
	case voice.ConversationModeChange:
		out.Kind = EventModeChange
	case voice.ConversationClosed:
		out.Kind = EventConversationClosed
	default:
		return Event{}, false
	}
	return out, true
}

func transcriptionEvent(gen uint64, ev voice.TranscriptionEvent) (Event, bool) {
	out := Event{Text: ev.Text, Code: ev.Code, Detail: ev.Detail, Fault: ev.Fault, gen: gen}
	switch ev.Type {
	case voice.TranscriptionPartial:
		out.Kind = EventPartialTranscript
	case voice.TranscriptionCommitted:
		out.Kind = EventCommittedTranscript
	case voice.TranscriptionError:
		out.Kind = EventTranscriptionError
	case voice.TranscriptionClosed:
		out.Kind = EventTranscriptionClosed
	default:
		return Event{}, false
	}
	return out, true
}
