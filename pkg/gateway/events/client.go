package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/villagehq/village/pkg/core"
)

// Conn is the subset of *websocket.Conn the hub writes through.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Client is one observer connection. All writes to the underlying socket
// happen on the client's writer goroutine; publishers only enqueue.
type Client struct {
	hub  *Hub
	conn Conn
	send chan core.Event

	done     chan struct{}
	stopOnce sync.Once
}

func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// enqueue appends ev to the client's outbound queue without blocking.
// It reports false when the queue is full.
func (c *Client) enqueue(ev core.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// connection alive with pings. A write failure unregisters the client;
// the remaining observers of the same broadcast are unaffected.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(c.hub.cfg.PingInterval)
	defer pingTicker.Stop()
	defer c.conn.Close()

	writeTimeout := c.hub.cfg.WriteTimeout

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case ev := <-c.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				c.hub.logger.Error("marshal event", "event_type", ev.Type, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.Unregister(c)
				return
			}
		case <-pingTicker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}
