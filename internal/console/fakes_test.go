package console

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/agentconsole/internal/tokens"
	"github.com/ent0n29/agentconsole/internal/voice"
)

type fakeTokens struct {
	mu          sync.Mutex
	convCalls   int
	scribeCalls int
	convErr     error
	scribeErr   error
	lastAgent   string
	lastUser    string
}

func (f *fakeTokens) FetchConversationToken(_ context.Context, agentID, userID string) (tokens.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	f.lastAgent, f.lastUser = agentID, userID
	if f.convErr != nil {
		return tokens.SessionToken{}, f.convErr
	}
	ttl := 600
	return tokens.SessionToken{Token: "conversation-token-0001", TTLSeconds: &ttl, FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeTokens) FetchTranscriptionToken(_ context.Context) (tokens.ScribeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scribeCalls++
	if f.scribeErr != nil {
		return tokens.ScribeToken{}, f.scribeErr
	}
	return tokens.ScribeToken{Token: "scribe-token", FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeTokens) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls, f.scribeCalls
}

type fakeConversationChannel struct {
	id     string
	events chan voice.ConversationEvent

	mu      sync.Mutex
	sent    []string
	pings   int
	closed  bool
	sendErr error
	// stalled receives once per send that hangs until its ctx ends.
	stalled   chan struct{}
	abandoned int
}

func (c *fakeConversationChannel) ConversationID() string { return c.id }

func (c *fakeConversationChannel) stallSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled = make(chan struct{}, 4)
}

func (c *fakeConversationChannel) abandonedSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandoned
}

func (c *fakeConversationChannel) SendUserMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	stalled := c.stalled
	c.mu.Unlock()
	if stalled != nil {
		stalled <- struct{}{}
		<-ctx.Done()
		c.mu.Lock()
		c.abandoned++
		c.mu.Unlock()
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConversationChannel) SendActivity(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConversationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConversationChannel) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConversationChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeConversationProvider hands out channels whose events the test pushes.
// When gate is set, StartConversation waits for it before returning.
type fakeConversationProvider struct {
	mu       sync.Mutex
	channels []*fakeConversationChannel
	configs  []voice.ConversationConfig
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (p *fakeConversationProvider) StartConversation(ctx context.Context, cfg voice.ConversationConfig) (voice.ConversationChannel, <-chan voice.ConversationEvent, error) {
	p.mu.Lock()
	gate, entered, err := p.gate, p.entered, p.err
	p.configs = append(p.configs, cfg)
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, nil, err
	}
	ch := &fakeConversationChannel{id: "conv-" + cfg.AgentID, events: make(chan voice.ConversationEvent, 64)}
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch, ch.events, nil
}

func (p *fakeConversationProvider) last() *fakeConversationChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[len(p.channels)-1]
}

func (p *fakeConversationProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configs)
}

type fakeTranscriptionChannel struct {
	events chan voice.TranscriptionEvent

	mu     sync.Mutex
	closed bool
}

func (c *fakeTranscriptionChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeTranscriptionChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTranscriptionProvider struct {
	mu       sync.Mutex
	channels []*fakeTranscriptionChannel
	configs  []voice.TranscriptionConfig
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (p *fakeTranscriptionProvider) StartTranscription(_ context.Context, cfg voice.TranscriptionConfig, _ voice.AudioSource) (voice.TranscriptionChannel, <-chan voice.TranscriptionEvent, error) {
	p.mu.Lock()
	gate, entered, err := p.gate, p.entered, p.err
	p.configs = append(p.configs, cfg)
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, nil, err
	}
	ch := &fakeTranscriptionChannel{events: make(chan voice.TranscriptionEvent, 64)}
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch, ch.events, nil
}

func (p *fakeTranscriptionProvider) last() *fakeTranscriptionChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[len(p.channels)-1]
}

func (p *fakeTranscriptionProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
