package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client is one websocket connection watching a single run.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	runID string
	send  chan *ProgressMessage

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn for runID.
func NewClient(hub *Hub, conn *websocket.Conn, runID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		runID:  runID,
		send:   make(chan *ProgressMessage, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Send queues msg. It reports false when the client is gone or too slow
// to keep up, in which case the connection is closed.
func (c *Client) Send(msg *ProgressMessage) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.closed:
		return false
	default:
		c.shutdown()
		return false
	}
}

// Done is closed once the connection is finished.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ReadPump discards client frames and notices disconnects.
func (c *Client) ReadPump() {
	defer c.shutdown()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WritePump delivers queued frames and pings. A terminal frame ends the
// connection with a normal close.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Terminal() {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
