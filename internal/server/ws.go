package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

type wsInbound struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
}

type wsOutbound struct {
	Type    string               `json:"type"`
	Session *sessionView         `json:"session,omitempty"`
	Result  *conversation.Result `json:"result,omitempty"`
	Code    string               `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
}

// handleWS streams events for one session. The session must exist before
// the upgrade; each inbound event gets exactly one result or error back.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		s.logger.Warn("ws set read deadline failed", slog.String("error", err.Error()))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		writeLoop(ctx, conn, writeCh, wsPingEvery)
	}()

	view := sessionView{Session: sess.Snapshot(), Progress: conversation.ProgressAt(sess.Cursor)}
	push(ctx, writeCh, wsOutbound{Type: "session", Session: &view})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				s.logger.Debug("ws read ended", slog.String("session", id), slog.String("error", err.Error()))
			}
			cancel()
			<-writerDone
			return
		}

		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			push(ctx, writeCh, wsOutbound{Type: "pong"})
		case "event":
			if in.Event == nil {
				push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "event is required"})
				continue
			}
			res, err := s.sessions.Handle(ctx, id, *in.Event)
			if err != nil {
				_, code := errorStatus(err)
				push(ctx, writeCh, wsOutbound{Type: "error", Code: code, Message: err.Error()})
				continue
			}
			push(ctx, writeCh, wsOutbound{Type: "result", Result: &res})
		case "":
			push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		default:
			push(ctx, writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "unsupported type: " + in.Type})
		}
	}
}

// wsWriter is the write half of a websocket connection.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// writeLoop sends queued messages and keepalive pings until ctx is done or a
// write fails. It closes conn on return so a reader blocked on the same
// connection fails immediately instead of waiting for its read deadline.
func writeLoop(ctx context.Context, conn wsWriter, writeCh <-chan wsOutbound, pingEvery time.Duration) {
	defer conn.Close()
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-writeCh:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues out for the writer, giving up once the connection is closing.
func push(ctx context.Context, writeCh chan<- wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
	case <-ctx.Done():
	}
}
