package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","console_id":"c1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.ConsoleID != "c1" || audio.SampleRate != 16000 || audio.Commit {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageCommitOnlyChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","console_id":"c1","seq":9,"sample_rate":16000,"commit":true}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if audio := msg.(ClientAudioChunk); !audio.Commit {
		t.Fatalf("Commit = false, want true")
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","console_id":"c1","sample_rate":16000}`)); err == nil {
		t.Fatalf("chunk without audio or commit should be rejected")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","console_id":"c1","action":"start_capture","reason":"push_to_talk","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.ConsoleID != "c1" || control.Action != ActionStartCapture {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.TSMs != 456 || control.Reason != "push_to_talk" {
		t.Fatalf("TSMs = %d, Reason = %q", control.TSMs, control.Reason)
	}
}

func TestParseClientMessageRejectsInvalidControl(t *testing.T) {
	for _, raw := range []string{
		`{"type":"client_control","action":"activity"}`,
		`{"type":"client_control","console_id":"c1"}`,
		`{"type":"client_control","console_id":"c1","action":"self_destruct"}`,
		`{"type":`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) should fail", raw)
		}
	}
}

func TestOutboundMessagesCarryType(t *testing.T) {
	raw, err := json.Marshal(NewConsoleSnapshot("c1", map[string]string{"status": "connected"}))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"type":"console_snapshot"`) || !strings.Contains(string(raw), `"status":"connected"`) {
		t.Fatalf("snapshot json = %s", raw)
	}

	ev := NewErrorEvent("c1", "invalid_message", "client", "bad payload", false)
	if ev.Type != TypeErrorEvent || ev.Source != "client" || ev.Retryable {
		t.Fatalf("error event = %+v", ev)
	}
}
