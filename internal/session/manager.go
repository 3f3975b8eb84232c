package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/agentconsole/internal/console"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("console not found")

// Factory builds the coordinator for a new console around its microphone.
type Factory func(consoleID, userID string, mic *voice.PushMicrophone) (*console.Coordinator, error)

// Console is one hosted coordinator plus the microphone its audio clients feed.
type Console struct {
	ID             string    `json:"console_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	Coordinator *console.Coordinator  `json:"-"`
	Microphone  *voice.PushMicrophone `json:"-"`
}

type Manager struct {
	mu                sync.RWMutex
	consoles          map[string]*Console
	factory           Factory
	autoGrant         bool
	inactivityTimeout time.Duration
	onExpire          func(*Console)
}

func NewManager(factory Factory, inactivityTimeout time.Duration, autoGrant bool) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		consoles:          make(map[string]*Console),
		factory:           factory,
		autoGrant:         autoGrant,
		inactivityTimeout: inactivityTimeout,
	}
}

// SetExpireHook registers a callback for consoles closed by the janitor.
func (m *Manager) SetExpireHook(hook func(*Console)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration { return m.inactivityTimeout }

func (m *Manager) Create(userID string) (*Console, error) {
	id := uuid.NewString()
	mic := voice.NewPushMicrophone(m.autoGrant)
	coord, err := m.factory(id, strings.TrimSpace(userID), mic)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Console{
		ID:             id,
		UserID:         coord.UserID(),
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		Coordinator:    coord,
		Microphone:     mic,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.consoles[id] = c
	return clone(c), nil
}

func (m *Manager) Get(consoleID string) (*Console, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consoles[consoleID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(consoleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consoles[consoleID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// End closes the console's coordinator and forgets it.
func (m *Manager) End(consoleID string) (*Console, error) {
	m.mu.Lock()
	c, ok := m.consoles[consoleID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(m.consoles, consoleID)
	c.Status = StatusEnded
	c.LastActivityAt = time.Now().UTC()
	out := clone(c)
	m.mu.Unlock()

	c.Coordinator.Close()
	return out, nil
}

// CloseAll ends every console. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Console, 0, len(m.consoles))
	for id, c := range m.consoles {
		c.Status = StatusEnded
		all = append(all, c)
		delete(m.consoles, id)
	}
	m.mu.Unlock()

	for _, c := range all {
		c.Coordinator.Close()
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consoles)
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Console

	m.mu.Lock()
	for id, c := range m.consoles {
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.LastActivityAt = now
		expired = append(expired, c)
		delete(m.consoles, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, c := range expired {
		c.Coordinator.Close()
		if hook != nil {
			hook(clone(c))
		}
	}
}

func clone(c *Console) *Console {
	out := *c
	return &out
}
