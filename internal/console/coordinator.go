package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/agentconsole/internal/archive"
	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/policy"
	"github.com/ent0n29/agentconsole/internal/reliability"
	"github.com/ent0n29/agentconsole/internal/tokens"
	"github.com/ent0n29/agentconsole/internal/transcript"
	"github.com/ent0n29/agentconsole/internal/voice"
)

const (
	defaultArchiveTimeout = 2 * time.Second

	msgInterrupted        = "Agent was interrupted by the user."
	msgConversationEnded  = "Conversation ended."
	msgConversationError  = "Conversation error"
	msgSelectAgent        = "Select an agent before starting the conversation."
	msgConnectBeforeSpeak = "Connect to the agent before starting speech capture."
)

type Options struct {
	ConsoleID string
	// UserID is generated as web-user-<uuid> when empty.
	UserID string

	Tokens        tokens.Source
	Conversation  voice.ConversationProvider
	Transcription voice.TranscriptionProvider
	Microphone    voice.Microphone
	// MicConstraints defaults to all processing enabled.
	MicConstraints *voice.MicConstraints

	Archive        archive.Store
	ArchiveTimeout time.Duration
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

// Coordinator drives one conversation session and one transcription session
// and merges their events into a single bounded transcript.
type Coordinator struct {
	consoleID      string
	userID         string
	tokens         tokens.Source
	mic            voice.Microphone
	constraints    voice.MicConstraints
	archive        archive.Store
	archiveTimeout time.Duration
	metrics        *observability.Metrics
	logger         *slog.Logger

	conversation  *ConversationSession
	transcription *TranscriptionSession

	// sendMu orders a user send before the conversation events it triggers.
	// It is taken before mu; Stop and Close never take it.
	sendMu sync.Mutex

	mu            sync.Mutex
	ctx           sessionContext
	startGen      uint64
	startCancel   context.CancelFunc
	captureGen    uint64
	captureCancel context.CancelFunc
	// convCtx lives as long as the connected conversation and bounds sends.
	convCtx    context.Context
	convCancel context.CancelFunc
	// awaitingReply is set by a successful send and cleared by the next agent text.
	awaitingReply      time.Time
	awaitingReplyStage string
	subscribers        map[int]chan Snapshot
	nextSubscriber     int
	closed             bool
}

func NewCoordinator(opts Options) (*Coordinator, error) {
	switch {
	case opts.Tokens == nil:
		return nil, errors.New("console: token source is required")
	case opts.Conversation == nil:
		return nil, errors.New("console: conversation provider is required")
	case opts.Transcription == nil:
		return nil, errors.New("console: transcription provider is required")
	case opts.Microphone == nil:
		return nil, errors.New("console: microphone is required")
	}

	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		userID = "web-user-" + uuid.NewString()
	}
	constraints := voice.DefaultMicConstraints()
	if opts.MicConstraints != nil {
		constraints = *opts.MicConstraints
	}
	timeout := opts.ArchiveTimeout
	if timeout <= 0 {
		timeout = defaultArchiveTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}

	c := &Coordinator{
		consoleID:      opts.ConsoleID,
		userID:         userID,
		tokens:         opts.Tokens,
		mic:            opts.Microphone,
		constraints:    constraints,
		archive:        opts.Archive,
		archiveTimeout: timeout,
		metrics:        opts.Metrics,
		logger:         logger.With("console_id", opts.ConsoleID, "user_id", userID),
		ctx:            newSessionContext(),
		subscribers:    make(map[int]chan Snapshot),
	}
	c.conversation = NewConversationSession(opts.Conversation, c.dispatch)
	c.transcription = NewTranscriptionSession(opts.Transcription, opts.Microphone, c.dispatch)
	return c, nil
}

func (c *Coordinator) UserID() string { return c.userID }

// Start opens a conversation with agentID using a freshly fetched token.
func (c *Coordinator) Start(ctx context.Context, agentID string) error {
	const op = "start conversation"
	agentID = strings.TrimSpace(agentID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return reliability.StateError(op, "console is closed")
	}
	if agentID == "" {
		c.ctx.lastError = msgSelectAgent
		c.notifyLocked()
		c.mu.Unlock()
		return reliability.StateError(op, msgSelectAgent)
	}
	if c.ctx.starting {
		c.mu.Unlock()
		return reliability.StateError(op, "a start is already in progress")
	}
	switch c.conversation.State() {
	case ConversationConnecting, ConversationConnected:
		c.mu.Unlock()
		return reliability.StateError(op, "conversation is already active")
	case ConversationError:
		c.conversation.End()
	}
	c.startGen++
	gen := c.startGen
	startCtx, cancel := context.WithCancel(ctx)
	c.startCancel = cancel
	c.ctx.beginStart()
	c.notifyLocked()
	c.mu.Unlock()
	defer cancel()

	began := time.Now()
	c.countEvent("start_requested")

	if err := c.mic.Permit(startCtx); err != nil {
		return c.failStart(gen, reliability.Wrap(reliability.KindPermission, op, err))
	}

	fetchStart := time.Now()
	tok, err := c.tokens.FetchConversationToken(startCtx, agentID, c.userID)
	if err != nil {
		return c.failStart(gen, err)
	}
	c.metrics.ObserveStage(observability.StageTokenFetch, time.Since(fetchStart))

	c.mu.Lock()
	if gen != c.startGen {
		c.mu.Unlock()
		return reliability.StateError(op, "start cancelled")
	}
	c.ctx.recordToken(tok)
	c.notifyLocked()
	c.mu.Unlock()

	connectStart := time.Now()
	sessionID, err := c.conversation.Connect(startCtx, agentID, tok.Token, c.userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.startGen {
		if err == nil {
			// Stop ran while connecting and nothing else can own this connection.
			c.conversation.End()
		}
		return reliability.StateError(op, "start cancelled")
	}
	c.startCancel = nil
	if err != nil {
		c.failConversationLocked(err)
		c.notifyLocked()
		return err
	}

	c.ctx.connected(agentID, sessionID)
	c.cancelSendsLocked()
	c.convCtx, c.convCancel = context.WithCancel(context.Background())
	c.appendLocked(transcript.RoleSystem, fmt.Sprintf("Conversation with %s started. Say hello!", agentID))
	c.conversation.Listen()
	c.countEvent("conversation_connected")
	c.metrics.ObserveStage(observability.StageConversationConnect, time.Since(connectStart))
	c.metrics.ObserveConnectLatency(time.Since(began))
	c.logger.Info("console: conversation started", "agent_id", agentID, "session_id", sessionID)
	c.notifyLocked()
	return nil
}

func (c *Coordinator) failStart(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.startGen {
		return reliability.StateError("start conversation", "start cancelled")
	}
	c.startCancel = nil
	c.failConversationLocked(err)
	c.notifyLocked()
	return err
}

func (c *Coordinator) failConversationLocked(err error) {
	msg := err.Error()
	c.ctx.fail(msg)
	c.appendLocked(transcript.RoleSystem, msg)
	c.countEvent("start_failed")
	c.countProviderError("conversation", string(reliability.KindOf(err)))
	c.logger.Warn("console: start failed", "error", msg, "kind", string(reliability.KindOf(err)))
}

// Stop ends the conversation, cancelling an in-flight Start. Capture is left running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.notifyLocked()
}

func (c *Coordinator) stopLocked() {
	c.startGen++
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	state := c.conversation.State()
	wasActive := c.ctx.sessionID != "" || c.ctx.starting ||
		state == ConversationConnected || state == ConversationConnecting

	c.cancelSendsLocked()
	c.conversation.End()
	c.closeStreamLocked()
	c.ctx.disconnected()
	c.awaitingReply = time.Time{}
	if wasActive {
		c.appendLocked(transcript.RoleSystem, msgConversationEnded)
		c.countEvent("conversation_stopped")
		c.logger.Info("console: conversation stopped")
	}
}

// StartCapture opens the transcription channel. The conversation must be connected.
func (c *Coordinator) StartCapture(ctx context.Context) error {
	const op = "start capture"
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return reliability.StateError(op, "console is closed")
	}
	if c.conversation.State() != ConversationConnected {
		c.ctx.captureError = msgConnectBeforeSpeak
		c.notifyLocked()
		c.mu.Unlock()
		return reliability.StateError(op, msgConnectBeforeSpeak)
	}
	if c.ctx.captureStarting || c.transcription.State().active() {
		c.mu.Unlock()
		return reliability.StateError(op, "capture is already active")
	}
	c.captureGen++
	gen := c.captureGen
	captureCtx, cancel := context.WithCancel(ctx)
	c.captureCancel = cancel
	c.ctx.beginCapture()
	c.notifyLocked()
	c.mu.Unlock()
	defer cancel()

	if err := c.mic.Permit(captureCtx); err != nil {
		return c.failCapture(gen, reliability.Wrap(reliability.KindPermission, op, err))
	}
	tok, err := c.tokens.FetchTranscriptionToken(captureCtx)
	if err != nil {
		return c.failCapture(gen, err)
	}

	connectStart := time.Now()
	err = c.transcription.Connect(captureCtx, tok.Token, c.constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.captureGen {
		return reliability.StateError(op, "capture cancelled")
	}
	c.captureCancel = nil
	if err != nil {
		c.ctx.captureFailed(err.Error())
		c.countProviderError("transcription", string(reliability.KindOf(err)))
		c.notifyLocked()
		return err
	}
	c.ctx.captureStarting = false
	c.transcription.Listen()
	c.countEvent("capture_started")
	c.metrics.ObserveStage(observability.StageTranscriptionConnect, time.Since(connectStart))
	c.notifyLocked()
	return nil
}

func (c *Coordinator) failCapture(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.captureGen {
		return reliability.StateError("start capture", "capture cancelled")
	}
	c.captureCancel = nil
	c.ctx.captureFailed(err.Error())
	c.countProviderError("transcription", string(reliability.KindOf(err)))
	c.notifyLocked()
	return err
}

// StopCapture tears down the transcription session and releases the microphone.
func (c *Coordinator) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCaptureLocked()
	c.notifyLocked()
}

func (c *Coordinator) stopCaptureLocked() {
	c.captureGen++
	if c.captureCancel != nil {
		c.captureCancel()
		c.captureCancel = nil
	}
	c.ctx.captureStarting = false
	c.transcription.Disconnect()
}

// SendMessage forwards a typed message. Nothing is appended when the send
// fails or the conversation ends before it completes.
func (c *Coordinator) SendMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	gen, err := c.conversation.sendable()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	sendCtx, cancel := c.sendContextLocked(ctx)
	c.mu.Unlock()
	defer cancel()

	err = c.conversation.SendUserMessage(sendCtx, trimmed)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		return err
	}
	if !c.conversation.current(gen) {
		return reliability.StateError("send message", "the conversation ended before the message was delivered")
	}
	c.appendLocked(transcript.RoleUser, trimmed)
	c.expectReplyLocked(observability.StageMessageToFirstText)
	c.notifyLocked()
	return nil
}

// NotifyActivity forwards a best-effort activity ping.
func (c *Coordinator) NotifyActivity(ctx context.Context) {
	c.conversation.SendActivityPing(ctx)
}

// Close stops both sessions and drops all subscribers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopCaptureLocked()
	c.stopLocked()
	c.closed = true
	c.notifyLocked()
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}

// Status returns the merged status of both sessions.
func (c *Coordinator) Status() Status {
	return DeriveStatus(c.conversation.State(), c.transcription.State())
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change. A slow
// subscriber misses snapshots rather than blocking the console.
func (c *Coordinator) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Snapshot, buffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = ch
	ch <- c.snapshotLocked()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			close(sub)
			delete(c.subscribers, id)
		}
	}
}

// dispatch receives every session event. Events from superseded connections
// are dropped.
func (c *Coordinator) dispatch(ev Event) {
	if ev.Kind == EventCommittedTranscript {
		c.bridge(ev)
		return
	}
	if ev.fromConversation() {
		c.sendMu.Lock()
		defer c.sendMu.Unlock()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.applyLocked(ev) {
		return
	}

	switch ev.Kind {
	case EventUserTranscript:
		c.appendLocked(transcript.RoleUser, ev.Text)
	case EventAgentResponse:
		c.observeReplyLocked()
		if !c.repeatsStreamedReplyLocked(ev.Text) {
			c.appendLocked(transcript.RoleAgent, ev.Text)
		}
	case EventAgentResponsePart:
		c.observeReplyLocked()
		res := c.ctx.log.ApplyFragment(ev.Stage, ev.Text)
		if res.Closed != nil {
			c.archiveLocked(*res.Closed)
		}
		if res.Opened {
			c.countMessage(transcript.RoleAgent)
		}
	case EventInterruption:
		c.appendLocked(transcript.RoleSystem, msgInterrupted)
		c.metrics.ObserveIndicator("agent_interrupted")
	case EventModeChange:
		c.ctx.mode = ev.Mode
	case EventConversationError:
		msg := strings.TrimSpace(ev.Detail)
		if msg == "" {
			msg = msgConversationError
		}
		c.ctx.lastError = msg
		c.appendLocked(transcript.RoleSystem, msg)
		c.countProviderError("conversation", ev.Code)
		c.logger.Warn("console: conversation error", "code", ev.Code, "detail", ev.Detail)
	case EventConversationClosed:
		c.cancelSendsLocked()
		c.closeStreamLocked()
		c.ctx.disconnected()
		if ev.Fault {
			msg := "Conversation connection lost"
			if d := strings.TrimSpace(ev.Detail); d != "" {
				msg += ": " + d
			}
			c.ctx.lastError = msg
			c.appendLocked(transcript.RoleSystem, msg)
			c.countProviderError("conversation", "transport")
		}
	case EventPartialTranscript:
		// Held by the transcription session; never stored in the log.
	case EventTranscriptionError:
		msg := strings.TrimSpace(ev.Detail)
		if msg == "" {
			msg = "The speech-to-text service reported an error."
		}
		if ev.Code != "" {
			msg = ev.Code + ": " + msg
		}
		c.ctx.captureError = msg
		c.countProviderError("transcription", ev.Code)
	case EventTranscriptionClosed:
		if ev.Fault {
			c.ctx.captureError = "Speech-to-text connection lost"
			c.countProviderError("transcription", "transport")
		}
	}
	c.notifyLocked()
}

// applyLocked folds ev into its session and reports whether it belongs to the
// current connection.
func (c *Coordinator) applyLocked(ev Event) bool {
	var current bool
	if ev.fromConversation() {
		current = c.conversation.apply(ev)
	} else {
		current = c.transcription.apply(ev)
	}
	if !current {
		c.countEvent("stale_event_dropped")
		c.metrics.ObserveIndicator("stale_event_dropped")
		return false
	}
	c.countEvent(string(ev.Kind))
	return true
}

// bridge forwards a committed transcript to the conversation. The send runs
// without mu so Stop can always interrupt it.
func (c *Coordinator) bridge(ev Event) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if !c.applyLocked(ev) {
		c.mu.Unlock()
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		c.countBridge("empty")
		c.metrics.ObserveIndicator("empty_commit")
		c.notifyLocked()
		c.mu.Unlock()
		return
	}
	gen, err := c.conversation.sendable()
	if err != nil {
		c.ctx.captureError = err.Error()
		c.countBridge("rejected")
		c.notifyLocked()
		c.mu.Unlock()
		return
	}
	sendCtx, cancel := c.sendContextLocked(context.Background())
	c.notifyLocked()
	c.mu.Unlock()
	defer cancel()

	err = c.conversation.SendUserMessage(sendCtx, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.conversation.current(gen):
		c.countBridge("cancelled")
		return
	case err != nil:
		c.ctx.captureError = err.Error()
		c.countBridge("rejected")
	default:
		c.appendLocked(transcript.RoleUser, text)
		c.ctx.history.Push(text)
		c.expectReplyLocked(observability.StageBridgeToFirstText)
		c.countBridge("sent")
	}
	c.notifyLocked()
}

// sendContextLocked derives a send context that ends with the conversation.
func (c *Coordinator) sendContextLocked(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if c.convCtx == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(c.convCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Coordinator) cancelSendsLocked() {
	if c.convCancel != nil {
		c.convCancel()
	}
	c.convCtx, c.convCancel = nil, nil
}

// repeatsStreamedReplyLocked reports whether a complete agent response only
// repeats the newest log entry, an agent message assembled from fragments.
// Any later entry, system notices included, makes the response new.
func (c *Coordinator) repeatsStreamedReplyLocked(text string) bool {
	msgs := c.ctx.log.Messages()
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == transcript.RoleAgent && strings.TrimSpace(last.Text) == strings.TrimSpace(text)
}

func (c *Coordinator) appendLocked(role transcript.Role, text string) {
	msg, ok := c.ctx.log.Append(role, text)
	if !ok {
		return
	}
	c.countMessage(role)
	c.archiveLocked(msg)
}

func (c *Coordinator) closeStreamLocked() {
	if msg, ok := c.ctx.log.CloseStream(); ok {
		c.archiveLocked(msg)
	}
}

// archiveLocked saves msg in the background. Failures are only counted.
func (c *Coordinator) archiveLocked(msg transcript.Message) {
	if c.archive == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	content, redacted := policy.RedactPII(msg.Text)
	entry := archive.Entry{
		ID:          msg.ID,
		ConsoleID:   c.consoleID,
		UserID:      c.userID,
		SessionID:   c.ctx.sessionID,
		AgentID:     c.ctx.agentID,
		Role:        string(msg.Role),
		Content:     content,
		PIIRedacted: redacted,
		CreatedAt:   msg.Timestamp,
	}
	go func(e archive.Entry) {
		saveCtx, cancel := context.WithTimeout(context.Background(), c.archiveTimeout)
		defer cancel()
		if err := c.archive.SaveEntry(saveCtx, e); err != nil {
			c.countEvent("archive_save_failed")
			c.logger.Debug("console: archive save failed", "error", err)
		}
	}(entry)
}

func (c *Coordinator) expectReplyLocked(stage string) {
	c.awaitingReply = time.Now()
	c.awaitingReplyStage = stage
}

func (c *Coordinator) observeReplyLocked() {
	if c.awaitingReply.IsZero() {
		return
	}
	c.metrics.ObserveStage(c.awaitingReplyStage, time.Since(c.awaitingReply))
	c.awaitingReply = time.Time{}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	conv := c.conversation.State()
	tr := c.transcription.State()
	snap := Snapshot{
		ConsoleID:          c.consoleID,
		UserID:             c.userID,
		AgentID:            c.ctx.agentID,
		SessionID:          c.ctx.sessionID,
		Status:             DeriveStatus(conv, tr),
		ConversationState:  conv,
		ConversationLabel:  conv.Label(),
		TranscriptionState: tr,
		TranscriptionLabel: tr.Label(),
		Mode:               c.ctx.mode,
		Messages:           c.ctx.log.Messages(),
		StreamingMessageID: c.ctx.log.StreamingID(),
		PartialTranscript:  c.transcription.Partial(),
		History:            c.ctx.history.Entries(),
		LastError:          c.ctx.lastError,
		CaptureError:       c.ctx.captureError,
		Starting:           c.ctx.starting,
		CaptureStarting:    c.ctx.captureStarting,
		UpdatedAt:          c.ctx.updatedAt,
	}
	if c.ctx.token != nil {
		tok := *c.ctx.token
		snap.Token = &tok
	}
	return snap
}

func (c *Coordinator) notifyLocked() {
	c.ctx.touch()
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Coordinator) countEvent(event string) {
	if c.metrics == nil {
		return
	}
	c.metrics.SessionEvents.WithLabelValues(event).Inc()
}

func (c *Coordinator) countMessage(role transcript.Role) {
	if c.metrics == nil {
		return
	}
	c.metrics.TranscriptMessages.WithLabelValues(string(role)).Inc()
}

func (c *Coordinator) countBridge(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.BridgeResults.WithLabelValues(result).Inc()
}

func (c *Coordinator) countProviderError(provider, code string) {
	if c.metrics == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	c.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
}
