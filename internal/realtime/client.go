package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskboard/api/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frames buffered per client before it counts as slow.
	sendBuffer = 64
)

// Client is one ACTIVE WebSocket connection with its bound principal.
// The send channel is never closed; writers race against the done
// channel instead, so a concurrent broadcast can never panic.
type Client struct {
	id        string
	principal Principal
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, p Principal) *Client {
	return &Client{
		id:        util.NewID("conn"),
		principal: p,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// enqueue offers one marshalled frame to the client without blocking.
// Returns false when the client's buffer is full; the hub treats that
// as a dead subscriber and closes it.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close makes the connection's CLOSED state absorbing: safe to call
// from any goroutine, any number of times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads frames from the peer until the connection dies, then
// triggers the hub's cleanup exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("realtime: read error on %s: %v", c.id, err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			// Malformed frames are dropped; the connection stays up.
			c.hub.logger.Printf("realtime: malformed frame from %s: %v", c.id, err)
			continue
		}

		c.hub.handleFrame(c, frame)
	}
}

// writePump drains the send channel to the peer and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
