package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies console websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeConsoleSnapshot  MessageType = "console_snapshot"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionActivity     = "activity"
	ActionStartCapture = "start_capture"
	ActionStopCapture  = "stop_capture"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries one microphone frame. A chunk with Commit set may
// have no audio and only marks the end of an utterance.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	ConsoleID   string      `json:"console_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	ConsoleID string      `json:"console_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// ConsoleSnapshot pushes the full console view after every change.
type ConsoleSnapshot struct {
	Type      MessageType `json:"type"`
	ConsoleID string      `json:"console_id"`
	Snapshot  any         `json:"snapshot"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ConsoleID string      `json:"console_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewConsoleSnapshot(consoleID string, snapshot any) ConsoleSnapshot {
	return ConsoleSnapshot{Type: TypeConsoleSnapshot, ConsoleID: consoleID, Snapshot: snapshot}
}

func NewErrorEvent(consoleID, code, source, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{
		Type:      TypeErrorEvent,
		ConsoleID: consoleID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConsoleID == "" || msg.SampleRate <= 0 || (msg.PCM16Base64 == "" && !msg.Commit) {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.TrimSpace(msg.Action)
		if msg.ConsoleID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionActivity, ActionStartCapture, ActionStopCapture:
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
