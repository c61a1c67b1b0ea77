package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/eventhub"
)

const wsWriteTimeout = 10 * time.Second

// streamContext ends when the request does or the server stops.
func (s *Server) streamContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.stopCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// handleStream replays a session's events from the start as SSE. A
// Last-Event-ID header resumes after that sequence number.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.engine.Subscribe(id)
	if err != nil {
		s.writeSessionError(w, r, err, id)
		return
	}
	w.Header().Set("X-Session-ID", id)

	var after int64
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		after, _ = strconv.ParseInt(last, 10, 64)
	}
	s.streamSSE(w, r, sub, after)
}

// streamSSE writes events as server-sent events until the terminal event,
// the client leaves or the server stops. It closes sub.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, sub *eventhub.Subscription, after int64) {
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := s.streamContext(r)
	defer cancel()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, eventhub.ErrSubscriberDropped) {
				logger.Warn().Str("subscriber", sub.ID()).Msg("SSE subscriber fell behind and was dropped")
				fmt.Fprintf(w, "event: dropped\ndata: {\"error\":%q}\n\n", err.Error())
				flusher.Flush()
			} else if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("SSE stream ended")
			}
			return
		}
		if ev.Seq <= after {
			continue
		}

		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode event")
			return
		}
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleWebSocket streams a session's events as JSON websocket messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub, err := s.engine.Subscribe(id)
	if err != nil {
		s.writeSessionError(w, r, err, id)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"X-Session-ID": []string{id}})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx, cancel := s.streamContext(r)
	defer cancel()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().
		Str("session_id", id).
		Str("subscriber", sub.ID()).
		Logger()
	logger.Info().Str("ip", r.RemoteAddr).Msg("WebSocket client connected")

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("WebSocket read error")
				}
				return
			}
		}
	}()

	closeCode, reason := websocket.CloseNormalClosure, "stream complete"
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, eventhub.ErrSubscriberDropped):
				closeCode, reason = websocket.ClosePolicyViolation, "subscriber dropped"
			case ctx.Err() != nil:
				closeCode, reason = websocket.CloseGoingAway, "server closing"
			default:
				closeCode, reason = websocket.CloseInternalServerErr, err.Error()
			}
			break
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			logger.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}

	msg := websocket.FormatCloseMessage(closeCode, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	logger.Info().Str("reason", reason).Msg("WebSocket client disconnected")
}
