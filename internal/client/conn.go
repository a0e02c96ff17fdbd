package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one dialed websocket. The write pump is its only writer.
type conn struct {
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *conn {
	return &conn{
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (c *conn) enqueue(data []byte) bool {
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

// close asks the write pump to flush what is queued, say goodbye and close.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *conn) writePump(logger *slog.Logger) {
	defer c.ws.Close()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				logger.Info("websocket write failed", "error", err)
				return
			}
		case <-c.done:
			c.drain()
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.writeTimeout),
			)
			return
		}
	}
}

func (c *conn) drain() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
