// Package stream serves live auction prices over websockets.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"live-auction/utils"

	"github.com/gorilla/websocket"
)

// State is where a connection is in its lifecycle
type State int32

const (
	StateConnecting State = iota // upgraded, not yet subscribed
	StateSubscribed              // receiving updates for one auction
	StateClosing                 // teardown started
	StateClosed                  // unsubscribed and socket closed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one viewer's websocket. It implements hub.Subscriber.
type Connection struct {
	id  string
	ws  *websocket.Conn
	cfg Config

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	state     atomic.Int32
	auctionID atomic.Int64
	userID    int64
}

func newConnection(ws *websocket.Conn, cfg Config, userID int64) *Connection {
	return &Connection{
		id:         utils.GenerateID(),
		ws:         ws,
		cfg:        cfg,
		send:       make(chan []byte, cfg.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		userID:     userID,
	}
}

// ID identifies the connection in the hub
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Connection) State() State { return State(c.state.Load()) }

// AuctionID is the subscribed auction, 0 before subscription
func (c *Connection) AuctionID() int64 { return c.auctionID.Load() }

// Enqueue hands a frame to the write pump without blocking
func (c *Connection) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close starts teardown. It is safe to call more than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
	})
}

func (c *Connection) markSubscribed(auctionID int64) bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateSubscribed)) {
		return false
	}
	c.auctionID.Store(auctionID)
	return true
}

// writePump is the only writer to the socket
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.flush()
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				utils.Warn("failed to write frame", map[string]any{"connection_id": c.id, "error": err.Error()})
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				utils.Debug("failed to send ping", map[string]any{"connection_id": c.id, "error": err.Error()})
				c.Close()
				return
			}
		}
	}
}

// flush writes frames queued before Close. Caller set the write deadline.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump reads until the peer goes away or the connection is closed.
// Each text frame is passed to onMessage.
func (c *Connection) readPump(onMessage func(msg []byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				utils.Info("viewer connection lost", map[string]any{"connection_id": c.id, "error": err.Error()})
			}
			return
		}
		if kind == websocket.TextMessage {
			onMessage(msg)
		}
	}
}
