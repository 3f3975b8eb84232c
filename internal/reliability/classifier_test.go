package reliability

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{400, KindAuth},
		{401, KindAuth},
		{404, KindAuth},
		{408, KindNetwork},
		{429, KindNetwork},
		{500, KindNetwork},
		{503, KindNetwork},
	}
	for _, tc := range cases {
		got := ClassifyHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestClassifyRealtimeMessageType(t *testing.T) {
	if got := ClassifyRealtimeMessageType("auth_error"); got != KindAuth {
		t.Fatalf("auth_error = %q, want %q", got, KindAuth)
	}
	if got := ClassifyRealtimeMessageType("quota_exceeded"); got != KindNetwork {
		t.Fatalf("quota_exceeded = %q, want %q", got, KindNetwork)
	}
	if got := ClassifyRealtimeMessageType("input_error"); got != KindProtocol {
		t.Fatalf("input_error = %q, want %q", got, KindProtocol)
	}
}

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", StateError("send_user_message", "conversation is not connected"))
	if !errors.Is(err, ErrState) {
		t.Fatalf("errors.Is(%v, ErrState) = false, want true", err)
	}
	if errors.Is(err, ErrAuth) {
		t.Fatalf("errors.Is(%v, ErrAuth) = true, want false", err)
	}
	if got := KindOf(err); got != KindState {
		t.Fatalf("KindOf() = %q, want %q", got, KindState)
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := PermissionError("microphone", "denied")
	got := Wrap(KindNetwork, "connect", inner)
	if KindOf(got) != KindPermission {
		t.Fatalf("KindOf(Wrap()) = %q, want %q", KindOf(got), KindPermission)
	}
	if Wrap(KindNetwork, "connect", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindNetwork, "fetch conversation token", cause)
	want := "fetch conversation token: dial tcp: refused"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error should unwrap to cause")
	}
	if got := New(KindProtocol, "", "").Error(); got != ErrProtocol.Error() {
		t.Fatalf("empty detail Error() = %q, want %q", got, ErrProtocol.Error())
	}
}
