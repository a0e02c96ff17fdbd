package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/pkg/ctxlogger"
)

// conn is one physical websocket. Its session fields are owned by the read
// goroutine: handlers and teardown both run there.
type conn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	id     string
	roomId string
	userId string
}

func (c *conn) joined() bool {
	return c.roomId != ""
}

// Send queues data for the write pump without blocking. It reports false
// when the queue is full or the connection is closing.
func (c *conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Controller) serveWs(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	conn := &conn{
		ws:   ws,
		send: make(chan []byte, c.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	c.track(conn)

	ctx := r.Context()
	c.logger.InfoContext(ctx, "websocket connected", "remote_addr", r.RemoteAddr)

	go c.writePump(ctx, conn)
	c.readPump(ctx, conn)
}

func (c *Controller) readPump(ctx context.Context, conn *conn) {
	defer c.teardown(ctx, conn)

	conn.ws.SetReadLimit(c.cfg.MaxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WarnContext(ctx, "websocket read failed", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.InfoContext(ctx, "dropping non-text frame", "frame_type", messageType)
			continue
		}

		c.handleMessage(ctx, conn, data)
	}
}

func (c *Controller) writePump(ctx context.Context, conn *conn) {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case data := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.InfoContext(ctx, "websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			conn.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout),
			)
			return
		}
	}
}

// teardown runs exactly once per connection, whatever closed it.
func (c *Controller) teardown(ctx context.Context, conn *conn) {
	conn.closeOnce.Do(func() {
		close(conn.done)
		c.untrack(conn)

		if conn.joined() {
			c.leave(ctx, conn)
		}

		c.logger.InfoContext(ctx, "websocket disconnected")
	})
}

func (c *Controller) leave(ctx context.Context, conn *conn) registry.LeaveResponse {
	resp := c.registry.Leave(ctx, &registry.LeaveParams{
		RoomId:       conn.roomId,
		ConnectionId: conn.id,
	})
	conn.roomId = ""
	conn.userId = ""

	return resp
}

func (c *Controller) sendEnvelope(ctx context.Context, conn *conn, env *protocol.Envelope) {
	data, err := protocol.Marshal(env)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal reply", "error", err)
		return
	}

	if !conn.Send(data) {
		c.logger.WarnContext(ctx, "send queue full, reply dropped", "type", env.Type)
	}
}

func (c *Controller) sendError(ctx context.Context, conn *conn, roomId string, err error) {
	c.sendEnvelope(ctx, conn, protocol.NewError(roomId, err))
}

func (c *Controller) handleMessage(ctx context.Context, conn *conn, data []byte) {
	if conn.id != "" {
		ctx = ctxlogger.AppendCtx(ctx, slog.String("connection_id", conn.id))
	}

	env, err := protocol.Parse(data)
	if err != nil {
		c.logger.InfoContext(ctx, "dropping malformed message", "error", err)
		c.sendError(ctx, conn, "", err)
		return
	}

	if !env.Type.Inbound() {
		c.logger.InfoContext(ctx, "dropping server-only message", "type", env.Type)
		c.sendError(ctx, conn, env.RoomId, ErrServerOnlyType)
		return
	}

	if err := c.validate.Err(env); err != nil {
		c.logger.InfoContext(ctx, "dropping invalid message", "type", env.Type, "error", err)
		c.sendError(ctx, conn, env.RoomId, err)
		return
	}

	if err := c.wsRouter.Route(ctx, string(env.Type), &wsMessage{conn: conn, env: &env}); err != nil {
		c.logger.InfoContext(ctx, "message rejected", "type", env.Type, "error", err)
		c.sendError(ctx, conn, env.RoomId, err)
	}
}
