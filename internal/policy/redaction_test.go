package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIISecrets(t *testing.T) {
	out, changed := RedactPII("my key is sk_live_abcdefghijklmnop1234")
	if !changed || out != "my key is [REDACTED_SECRET]" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactPIILeavesPlainText(t *testing.T) {
	in := "Conversation with agent-1 started. Say hello!"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestMaskToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"short":            "*****",
		"abcdefghijklmnop": "********mnop",
	}
	for in, want := range cases {
		if got := MaskToken(in); got != want {
			t.Fatalf("MaskToken(%q) = %q, want %q", in, got, want)
		}
	}
}
