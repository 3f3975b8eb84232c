package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/agentconsole/internal/reliability"
)

const maxResponseBytes = 1 << 20

// SessionToken is a single-use conversation credential. It is never re-submitted.
type SessionToken struct {
	Token      string     `json:"token"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	TTLSeconds *int       `json:"ttl_seconds,omitempty"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// ScribeToken is a single-use credential for the realtime transcription channel.
type ScribeToken struct {
	Token     string    `json:"token"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Source is what the console needs from a broker.
type Source interface {
	FetchConversationToken(ctx context.Context, agentID, userID string) (SessionToken, error)
	FetchTranscriptionToken(ctx context.Context) (ScribeToken, error)
}

// Broker fetches short-lived credentials from the console backend. It never retries.
type Broker struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewBroker(baseURL string, client *http.Client) *Broker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Broker{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type conversationTokenRequest struct {
	AgentID string `json:"agentId"`
	UserID  string `json:"userId,omitempty"`
}

type conversationTokenResponse struct {
	Token     string  `json:"token"`
	ExpiresAt *string `json:"expiresAt"`
	TTL       *int    `json:"ttl"`
}

func (b *Broker) FetchConversationToken(ctx context.Context, agentID, userID string) (SessionToken, error) {
	const op = "fetch conversation token"
	body, err := json.Marshal(conversationTokenRequest{
		AgentID: strings.TrimSpace(agentID),
		UserID:  strings.TrimSpace(userID),
	})
	if err != nil {
		return SessionToken{}, reliability.Wrap(reliability.KindProtocol, op, err)
	}

	var parsed conversationTokenResponse
	if err := b.post(ctx, op, "/agents/conversation-token", body, &parsed); err != nil {
		return SessionToken{}, err
	}
	token := strings.TrimSpace(parsed.Token)
	if token == "" {
		return SessionToken{}, reliability.ProtocolError(op, "response did not include a token")
	}

	out := SessionToken{Token: token, TTLSeconds: parsed.TTL, FetchedAt: b.now()}
	if parsed.ExpiresAt != nil {
		// Unparsable expiry is treated as unknown rather than failing the fetch.
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*parsed.ExpiresAt)); err == nil {
			ts = ts.UTC()
			out.ExpiresAt = &ts
		}
	}
	return out, nil
}

func (b *Broker) FetchTranscriptionToken(ctx context.Context) (ScribeToken, error) {
	const op = "fetch transcription token"
	var parsed struct {
		Token string `json:"token"`
	}
	if err := b.post(ctx, op, "/agents/scribe-token", nil, &parsed); err != nil {
		return ScribeToken{}, err
	}
	token := strings.TrimSpace(parsed.Token)
	if token == "" {
		return ScribeToken{}, reliability.ProtocolError(op, "response did not include a token")
	}
	return ScribeToken{Token: token, FetchedAt: b.now()}, nil
}

func (b *Broker) post(ctx context.Context, op, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, reader)
	if err != nil {
		return reliability.Wrap(reliability.KindNetwork, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		return reliability.Wrap(reliability.KindNetwork, op, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return reliability.Wrap(reliability.KindNetwork, op, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return reliability.New(
			reliability.ClassifyHTTPStatus(res.StatusCode),
			op,
			fmt.Sprintf("status %d: %s", res.StatusCode, backendErrorMessage(payload)),
		)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return reliability.Wrap(reliability.KindProtocol, op, err)
	}
	return nil
}

// backendErrorMessage prefers the {"error": "..."} body the backend sends.
func backendErrorMessage(payload []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil && strings.TrimSpace(parsed.Error) != "" {
		return strings.TrimSpace(parsed.Error)
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
