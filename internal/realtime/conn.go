package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

// Conn wraps a websocket subscription to one chat channel. Outbound
// writes go through a buffered channel drained by a single write loop, so
// Conn is safe for concurrent fan-out.
type Conn struct {
	user uuid.UUID
	ws   *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewConn wraps an upgraded websocket for the given user.
func NewConn(userID uuid.UUID, ws *websocket.Conn) *Conn {
	return &Conn{
		user: userID,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) userID() uuid.UUID { return c.user }

// enqueue hands a payload to the write loop without blocking. A full
// buffer means the client cannot keep up; the caller drops the
// subscription to keep backpressure bounded.
func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// shutdown closes the connection once, sending a close frame with the
// given reason.
func (c *Conn) shutdown(reason string) {
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// WriteLoop drains the send channel and keeps the connection alive with
// pings. It returns when the connection is shut down or a write fails.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.shutdown("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown("ping failed")
				return
			}
		}
	}
}

// ReadLoop consumes inbound frames until the peer goes away. The channel
// is broadcast-only, so inbound payloads are discarded; the loop exists
// to observe pongs and disconnects. onClose runs exactly once when the
// loop exits.
func (c *Conn) ReadLoop(onClose func()) {
	defer onClose()
	c.ws.SetReadLimit(1024)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.shutdown("peer closed")
			return
		}
	}
}
