package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/blockduel/internal/identity"
)

// Conn is one upgraded client connection.
type Conn struct {
	id       string
	identity identity.Identity
	ws       *websocket.Conn
	server   *Server
	send     chan []byte

	alive     atomic.Bool // Proven alive since the last heartbeat sweep
	done      chan struct{}
	closeOnce sync.Once
	final     []byte // Close frame written by the write pump, set before done closes
	handshake bool   // Read goroutine only
}

func newConn(id string, who identity.Identity, ws *websocket.Conn, s *Server) *Conn {
	c := &Conn{
		id:       id,
		identity: who,
		ws:       ws,
		server:   s,
		send:     make(chan []byte, s.cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// enqueue queues a frame. Returns false if the connection is closed. A peer
// that lets its buffer fill is closed.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.server.logger.Warn("send buffer full, closing", "conn", c.id, "identity", c.identity)
		c.Close()
		return false
	}
}

// Close shuts the connection down. The read pump notices and reports the
// disconnect exactly once.
func (c *Conn) Close() {
	c.closeWith(nil)
}

// closeWith shuts the connection down after the write pump has sent frame.
// A nil frame closes right away. Neither form blocks the caller on the
// socket.
func (c *Conn) closeWith(frame []byte) {
	c.closeOnce.Do(func() {
		c.final = frame
		close(c.done)
		if frame == nil {
			go c.shutdown()
		}
	})
}

func (c *Conn) shutdown() {
	deadline := time.Now().Add(c.server.cfg.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.ws.Close()
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.server.unregister(c)
	}()

	c.ws.SetReadLimit(c.server.cfg.MaxMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("read error", "conn", c.id, "err", err)
			}
			return
		}

		// Any traffic proves liveness, not just pings.
		c.alive.Store(true)

		for _, frame := range SplitFrames(data) {
			if !c.handleFrame(frame) {
				return
			}
		}
	}
}

// handleFrame processes one inbound frame. Returns false when the client
// asked to close.
func (c *Conn) handleFrame(frame []byte) bool {
	first := !c.handshake
	c.handshake = true

	msg, err := DecodeMessage(frame)
	if err != nil {
		c.server.logger.Debug("dropping malformed frame", "conn", c.id, "err", err)
		return true
	}

	if !msg.known() {
		if first {
			c.enqueue(handshakeAck)
		}
		return true
	}

	switch msg.Type {
	case TypeInvocation:
		if msg.Target == "" {
			c.server.logger.Debug("dropping invocation without target", "conn", c.id)
			return true
		}
		c.server.handler().OnInvocation(c.id, msg.Target, msg.Arguments)
	case TypeClose:
		if msg.Error != "" {
			c.server.logger.Debug("client closed with error", "conn", c.id, "error", msg.Error)
		}
		return false
	}
	return true
}

func (c *Conn) writePump() {
	defer func() {
		c.Close()
		// final is safe to read once Close has returned.
		if c.final != nil {
			c.shutdown()
		}
	}()

	writeWait := c.server.cfg.WriteWait
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			if c.final != nil {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.ws.WriteMessage(websocket.TextMessage, c.final)
			}
			return
		}
	}
}
