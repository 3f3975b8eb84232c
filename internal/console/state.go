package console

type ConversationState string

const (
	ConversationIdle         ConversationState = "idle"
	ConversationConnecting   ConversationState = "connecting"
	ConversationConnected    ConversationState = "connected"
	ConversationError        ConversationState = "error"
	ConversationDisconnected ConversationState = "disconnected"
)

func (s ConversationState) Label() string {
	switch s {
	case ConversationConnected:
		return "Connected"
	case ConversationConnecting:
		return "Connecting…"
	case ConversationError:
		return "Error"
	default:
		return "Disconnected"
	}
}

type TranscriptionState string

const (
	TranscriptionIdle         TranscriptionState = "idle"
	TranscriptionConnecting   TranscriptionState = "connecting"
	TranscriptionConnected    TranscriptionState = "connected"
	TranscriptionTranscribing TranscriptionState = "transcribing"
	TranscriptionError        TranscriptionState = "error"
	TranscriptionDisconnected TranscriptionState = "disconnected"
)

func (s TranscriptionState) Label() string {
	switch s {
	case TranscriptionTranscribing:
		return "Listening"
	case TranscriptionConnected:
		return "Ready"
	case TranscriptionConnecting:
		return "Preparing…"
	case TranscriptionError:
		return "Error"
	default:
		return "Idle"
	}
}

// active reports whether a capture connection exists or is being opened.
func (s TranscriptionState) active() bool {
	return s == TranscriptionConnecting || s == TranscriptionConnected || s == TranscriptionTranscribing
}

// Status is the merged console status shown to callers.
type Status string

const (
	StatusDisconnected     Status = "disconnected"
	StatusConnecting       Status = "connecting"
	StatusConnected        Status = "connected"
	StatusPreparingCapture Status = "preparing_capture"
	StatusReady            Status = "ready"
	StatusListening        Status = "listening"
	StatusCaptureError     Status = "capture_error"
	StatusError            Status = "error"
)

// DeriveStatus merges the two session states. The conversation state dominates;
// capture detail is only shown while the conversation is connected.
func DeriveStatus(conv ConversationState, tr TranscriptionState) Status {
	switch conv {
	case ConversationError:
		return StatusError
	case ConversationConnecting:
		return StatusConnecting
	case ConversationConnected:
		switch tr {
		case TranscriptionTranscribing:
			return StatusListening
		case TranscriptionConnected:
			return StatusReady
		case TranscriptionConnecting:
			return StatusPreparingCapture
		case TranscriptionError:
			return StatusCaptureError
		default:
			return StatusConnected
		}
	default:
		return StatusDisconnected
	}
}
