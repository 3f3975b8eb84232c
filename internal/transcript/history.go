package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HistoryCapacity bounds the recent speech-to-text history.
const HistoryCapacity = 5

// HistoryEntry is one finalized speech-to-text result.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// History keeps the most recent committed transcriptions, newest first.
type History struct {
	capacity int
	entries  []HistoryEntry
	now      func() time.Time
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Push records text at the front and drops the oldest entries beyond capacity.
func (h *History) Push(text string) (HistoryEntry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return HistoryEntry{}, false
	}
	entry := HistoryEntry{
		ID:        "stt-" + uuid.NewString(),
		Text:      text,
		Timestamp: h.now(),
	}
	next := make([]HistoryEntry, 0, h.capacity)
	next = append(next, entry)
	next = append(next, h.entries...)
	if len(next) > h.capacity {
		next = next[:h.capacity]
	}
	h.entries = next
	return entry, true
}

func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int { return len(h.entries) }
