package session

import "time"

// CreateRequest defines payload for creating a new console.
type CreateRequest struct {
	UserID string `json:"user_id"`
}

// CreateResponse returns created console metadata.
type CreateResponse struct {
	ConsoleID       string    `json:"console_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// NewCreateResponse describes c for the create endpoint.
func NewCreateResponse(c *Console, ttl time.Duration) CreateResponse {
	return CreateResponse{
		ConsoleID:       c.ID,
		UserID:          c.UserID,
		Status:          c.Status,
		CreatedAt:       c.CreatedAt,
		LastActivityAt:  c.LastActivityAt,
		InactivityTTLMS: ttl.Milliseconds(),
	}
}
