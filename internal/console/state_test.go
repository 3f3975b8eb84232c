package console

import "testing"

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		conv ConversationState
		tr   TranscriptionState
		want Status
	}{
		{ConversationIdle, TranscriptionIdle, StatusDisconnected},
		{ConversationDisconnected, TranscriptionConnected, StatusDisconnected},
		{ConversationConnecting, TranscriptionIdle, StatusConnecting},
		{ConversationError, TranscriptionTranscribing, StatusError},
		{ConversationConnected, TranscriptionIdle, StatusConnected},
		{ConversationConnected, TranscriptionDisconnected, StatusConnected},
		{ConversationConnected, TranscriptionConnecting, StatusPreparingCapture},
		{ConversationConnected, TranscriptionConnected, StatusReady},
		{ConversationConnected, TranscriptionTranscribing, StatusListening},
		{ConversationConnected, TranscriptionError, StatusCaptureError},
	}
	for _, tc := range cases {
		if got := DeriveStatus(tc.conv, tc.tr); got != tc.want {
			t.Fatalf("DeriveStatus(%q, %q) = %q, want %q", tc.conv, tc.tr, got, tc.want)
		}
	}
}

func TestStateLabels(t *testing.T) {
	if got := ConversationConnecting.Label(); got != "Connecting…" {
		t.Fatalf("Label() = %q", got)
	}
	if got := ConversationIdle.Label(); got != "Disconnected" {
		t.Fatalf("Label() = %q", got)
	}
	if got := TranscriptionTranscribing.Label(); got != "Listening" {
		t.Fatalf("Label() = %q", got)
	}
	if got := TranscriptionDisconnected.Label(); got != "Idle" {
		t.Fatalf("Label() = %q", got)
	}
}
