package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentconsole/internal/observability"
	"github.com/ent0n29/agentconsole/internal/protocol"
	"github.com/ent0n29/agentconsole/internal/session"
	"github.com/ent0n29/agentconsole/internal/voice"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleConsoleWS streams console snapshots to the client and feeds its audio
// into the console microphone. An attached client grants microphone permission.
func (s *Server) handleConsoleWS(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupConsole(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := observability.LoggerFromContext(r.Context()).With("console_id", c.ID)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	detach := c.Microphone.Attach()
	defer detach()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := c.Coordinator.Subscribe(32)
	defer unsubscribe()
	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
				continue
			case snap, ok := <-updates:
				if !ok {
					// Console closed.
					cancel()
					return
				}
				msg = protocol.NewConsoleSnapshot(c.ID, snap)
			case m := <-outbound:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	sendError := func(code, source, detail string, retryable bool) {
		select {
		case outbound <- protocol.NewErrorEvent(c.ID, code, source, detail, retryable):
		default:
			// Writes stay single-threaded; drop when the queue is saturated.
			s.metrics.ObserveIndicator("ws_error_event_dropped")
		}
	}

	go func() {
		<-ctx.Done()
		// Unblocks ReadMessage when the writer or the console goes away.
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			sendError("invalid_client_message", "gateway", err.Error(), false)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		_ = s.consoles.Touch(c.ID)

		switch m := parsed.(type) {
		case protocol.ClientAudioChunk:
			if m.ConsoleID != c.ID {
				sendError("console_mismatch", "gateway", "audio chunk addressed to another console", false)
				continue
			}
			frame := voice.AudioFrame{AudioBase64: m.PCM16Base64, SampleRate: m.SampleRate, Commit: m.Commit}
			if !c.Microphone.Push(frame) {
				s.metrics.ObserveIndicator("audio_frame_dropped")
			}
		case protocol.ClientControl:
			if m.ConsoleID != c.ID {
				sendError("console_mismatch", "gateway", "control addressed to another console", false)
				continue
			}
			s.handleControl(ctx, c, m, sendError)
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	logger.Debug("console: websocket closed")
}

func (s *Server) handleControl(ctx context.Context, c *session.Console, m protocol.ClientControl, sendError func(code, source, detail string, retryable bool)) {
	switch m.Action {
	case protocol.ActionActivity:
		c.Coordinator.NotifyActivity(ctx)
	case protocol.ActionStartCapture:
		if err := c.Coordinator.StartCapture(ctx); err != nil {
			_, code := statusForError(err)
			sendError(code, "transcription", err.Error(), code == "network_error")
		}
	case protocol.ActionStopCapture:
		c.Coordinator.StopCapture()
	}
}
