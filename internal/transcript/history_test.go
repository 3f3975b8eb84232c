package transcript

import (
	"fmt"
	"testing"
)

func TestHistoryNewestFirstAndBounded(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	for i := 1; i <= 7; i++ {
		h.Push(fmt.Sprintf("utterance %d", i))
	}
	got := h.Entries()
	if len(got) != HistoryCapacity {
		t.Fatalf("len(Entries()) = %d, want %d", len(got), HistoryCapacity)
	}
	for i, e := range got {
		want := fmt.Sprintf("utterance %d", 7-i)
		if e.Text != want {
			t.Fatalf("Entries()[%d] = %q, want %q", i, e.Text, want)
		}
	}
}

func TestHistoryIgnoresEmpty(t *testing.T) {
	h := NewHistory(HistoryCapacity)
	if _, ok := h.Push("  "); ok {
		t.Fatalf("Push(empty) ok = true, want false")
	}
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}
