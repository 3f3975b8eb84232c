package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessages bounds the visible transcript log.
const MaxMessages = 40

type Role string

const (
	RoleAgent  Role = "agent"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Stage identifies a streamed agent text fragment.
type Stage string

const (
	StageStart Stage = "start"
	StageDelta Stage = "delta"
	StageStop  Stage = "stop"
)

// Message is one transcript entry. Only the message referenced by the streaming
// pointer is ever mutated, and only by appending text.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FragmentResult reports what a streamed fragment touched.
type FragmentResult struct {
	// Message is the message opened or extended by the fragment, or the one closed by a stop.
	Message Message
	// Closed is set when the fragment ended a stream (explicit stop or a start replacing it).
	Closed *Message
	// Opened reports that the fragment created a new message.
	Opened bool
}

// Assembler owns the bounded transcript log and the streaming pointer.
// It is not safe for concurrent use; callers serialize access.
type Assembler struct {
	capacity    int
	messages    []Message
	streamingID string
	now         func() time.Time
	newID       func(Role) string
}

func NewAssembler(capacity int) *Assembler {
	if capacity <= 0 {
		capacity = MaxMessages
	}
	return &Assembler{
		capacity: capacity,
		messages: make([]Message, 0, capacity),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newMessageID,
	}
}

// Append adds a trimmed message. Text that is empty after trimming is dropped.
func (a *Assembler) Append(role Role, text string) (Message, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, false
	}
	msg := a.create(role, trimmed)
	a.push(msg)
	return msg, true
}

// ApplyFragment folds one streamed agent fragment into the log.
// A delta with no open stream starts a new message.
func (a *Assembler) ApplyFragment(stage Stage, chunk string) FragmentResult {
	switch stage {
	case StageStop:
		if a.streamingID == "" {
			return FragmentResult{}
		}
		closed, ok := a.find(a.streamingID)
		a.streamingID = ""
		if !ok {
			return FragmentResult{}
		}
		return FragmentResult{Message: closed, Closed: &closed}
	case StageDelta:
		if idx := a.indexOf(a.streamingID); idx >= 0 {
			a.messages[idx].Text += chunk
			return FragmentResult{Message: a.messages[idx]}
		}
		return a.open(chunk)
	case StageStart:
		return a.open(chunk)
	default:
		return FragmentResult{}
	}
}

// CloseStream clears the streaming pointer, leaving the message text as-is.
func (a *Assembler) CloseStream() (Message, bool) {
	if a.streamingID == "" {
		return Message{}, false
	}
	msg, ok := a.find(a.streamingID)
	a.streamingID = ""
	return msg, ok
}

// StreamingID returns the id of the message receiving deltas, or "".
func (a *Assembler) StreamingID() string { return a.streamingID }

func (a *Assembler) Len() int { return len(a.messages) }

// Messages returns a copy of the log in display order.
func (a *Assembler) Messages() []Message {
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

func (a *Assembler) open(chunk string) FragmentResult {
	var res FragmentResult
	if prev, ok := a.CloseStream(); ok {
		res.Closed = &prev
	}
	msg := a.create(RoleAgent, chunk)
	a.push(msg)
	a.streamingID = msg.ID
	res.Message = msg
	res.Opened = true
	return res
}

func (a *Assembler) create(role Role, text string) Message {
	return Message{
		ID:        a.newID(role),
		Role:      role,
		Text:      text,
		Timestamp: a.now(),
	}
}

func (a *Assembler) push(msg Message) {
	a.messages = append(a.messages, msg)
	if over := len(a.messages) - a.capacity; over > 0 {
		for _, evicted := range a.messages[:over] {
			if evicted.ID == a.streamingID {
				// An evicted stream cannot receive further deltas.
				a.streamingID = ""
			}
		}
		a.messages = append(a.messages[:0], a.messages[over:]...)
	}
}

func (a *Assembler) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (a *Assembler) find(id string) (Message, bool) {
	idx := a.indexOf(id)
	if idx < 0 {
		return Message{}, false
	}
	return a.messages[idx], true
}

func newMessageID(role Role) string {
	return string(role) + "-" + uuid.NewString()
}
