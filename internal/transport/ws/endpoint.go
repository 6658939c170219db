// ABOUTME: WebSocket endpoint serving one session gateway over gorilla/websocket
// ABOUTME: Runs a read loop for requests and a single writer for replies, events and pings

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 64 << 10
	replyQueueSize = 16
)

// Handler serves one operation for a connected session. The returned value
// becomes the reply's data.
type Handler func(ctx context.Context, s *chat.Session, data json.RawMessage) (any, error)

// Endpoint upgrades HTTP requests to WebSocket channels bound to one
// SessionGateway. Wrap it in auth.OptionalAuthMiddleware so the request
// context carries the caller's identity when a token is present.
type Endpoint struct {
	name     string
	gateway  *chat.SessionGateway
	ops      map[string]Handler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEndpoint creates an endpoint with only the ping operation. Pass nil
// logger for default.
func NewEndpoint(name string, gateway *chat.SessionGateway, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Endpoint{
		name:    name,
		gateway: gateway,
		ops:     make(map[string]Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Callers authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "ws", "endpoint", name),
	}
	e.Handle("ping", e.ping)
	return e
}

// Handle registers h for frames of type op.
func (e *Endpoint) Handle(op string, h Handler) {
	e.ops[op] = h
}

func (e *Endpoint) ping(_ context.Context, s *chat.Session, _ json.RawMessage) (any, error) {
	e.gateway.Touch(s)
	return "pong", nil
}

// ServeHTTP upgrades the request and serves the channel until it closes.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Keep the request's values (the auth context) but not its cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	handle := uuid.New().String()
	sess, err := e.gateway.Connected(ctx, handle)
	if err != nil {
		if errors.Is(err, chat.ErrNoAdmin) {
			e.logger.Error("rejecting channel: no admin identity configured", "channel", handle)
		} else {
			e.logger.Warn("rejecting channel", "channel", handle, "error", err)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, closeReason(err))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer e.gateway.Disconnected(context.WithoutCancel(ctx), sess)

	e.logger.Info("channel connected",
		"channel", handle,
		"identity", sess.Identity,
		"anonymous", sess.Anonymous)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.gateway.Touch(sess)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	replies := make(chan Reply, replyQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		e.writeLoop(ctx, conn, sess.Client, replies)
		cancel()
		// Unblock the read loop.
		_ = conn.SetReadDeadline(time.Now())
	}()

	e.readLoop(ctx, conn, sess, replies)
	cancel()
	<-writerDone

	e.logger.Info("channel disconnected", "channel", handle, "identity", sess.Identity)
}

// readLoop decodes frames and dispatches them until the peer goes away.
func (e *Endpoint) readLoop(ctx context.Context, conn *websocket.Conn, sess *chat.Session, replies chan<- Reply) {
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				e.logger.Debug("peer closed", "channel", sess.Channel)
			case errors.As(err, &ne) && ne.Timeout():
				e.logger.Debug("read timeout", "channel", sess.Channel)
			default:
				e.logger.Debug("read failed", "channel", sess.Channel, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		reply := e.dispatch(ctx, sess, raw)
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch runs one frame and builds its reply.
func (e *Endpoint) dispatch(ctx context.Context, sess *chat.Session, raw []byte) Reply {
	frame, err := parseFrame(raw)
	if err != nil {
		id := ""
		if frame != nil {
			id = frame.ID
		}
		return errorReply(id, err)
	}

	h, ok := e.ops[frame.Type]
	if !ok {
		return errorReply(frame.ID, ErrUnknownOp)
	}

	data, err := h(ctx, sess, frame.Data)
	if err != nil {
		level := slog.LevelDebug
		if errorCode(err) == "internal" || errors.Is(err, chat.ErrNoAdmin) {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "operation failed",
			"op", frame.Type,
			"channel", sess.Channel,
			"identity", sess.Identity,
			"error", err)
		return errorReply(frame.ID, err)
	}
	return Reply{Type: resultType, ID: frame.ID, Data: data}
}

func errorReply(id string, err error) Reply {
	return Reply{Type: resultType, ID: id, Error: err.Error(), Code: errorCode(err)}
}

// writeLoop is the only writer on conn. It returns when ctx ends, the
// client's event queue closes, or a write fails.
func (e *Endpoint) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client, replies <-chan Reply) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			e.logger.Debug("write failed", "channel", client.Handle(), "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return

		case ev, ok := <-client.Events():
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if !write(ev) {
				return
			}

		case reply := <-replies:
			if !write(reply) {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				e.logger.Debug("ping failed", "channel", client.Handle(), "error", err)
				return
			}
		}
	}
}

// closeReason fits err into a close frame, whose reason is limited to 123 bytes.
func closeReason(err error) string {
	reason := err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	return reason
}
