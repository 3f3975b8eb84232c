package archive

import (
	"context"
	"time"
)

// Entry is one finalized transcript line kept beyond the visible window.
type Entry struct {
	ID          string    `json:"id"`
	ConsoleID   string    `json:"console_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists finalized transcript entries.
type Store interface {
	SaveEntry(ctx context.Context, entry Entry) error
	// RecentEntries returns up to limit entries for userID in chronological order.
	RecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}

const defaultRecentLimit = 50
