// Package websocket serves websocket endpoints declared as beans and fans
// messages out to their connections.
package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultHeartbeat is the idle time after which a heartbeat is sent.
	DefaultHeartbeat = 50 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Heartbeat is the text sent to idle connections.
const Heartbeat = `{"action":"heartbeat"}`

// Endpoint is a bean serving one websocket path.
type Endpoint interface {
	// Endpoint returns the path, relative to the context path.
	Endpoint() string
	// NewSocket returns the handler of a new connection. Its `inject`
	// fields are filled from the context.
	NewSocket() Socket
}

// HeartbeatEndpoint overrides DefaultHeartbeat; zero or less disables it.
type HeartbeatEndpoint interface {
	Heartbeat() time.Duration
}

// Socket handles the messages of one connection.
type Socket interface {
	// Parse decodes an incoming text frame.
	Parse(text string) (any, error)
	// Cast encodes an outgoing message.
	Cast(msg any) (string, error)
	// HandleMessage handles a parsed incoming message.
	HandleMessage(conn *Conn, msg any)
	// Matches reports whether a message addressed to id is for this
	// connection.
	Matches(id string, msg any) bool
}

// ConnectListener is notified when the connection opens.
type ConnectListener interface {
	Connected(conn *Conn)
}

// DisconnectListener is notified when the connection closes; err is nil
// for a normal closure.
type DisconnectListener interface {
	Disconnected(conn *Conn, err error)
}

// SentListener is notified after each delivered message.
type SentListener interface {
	MessageSent(msg any)
}

// Conn is one open websocket connection.
type Conn struct {
	ID       string
	Endpoint string

	header http.Header
	query  url.Values
	socket Socket
	ws     *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	heartbeat time.Duration

	mu       sync.Mutex
	lastSent time.Time
	closed   bool
	done     chan struct{}
}

func newConn(endpoint string, r *http.Request, ws *websocket.Conn, socket Socket, heartbeat time.Duration, logger *zap.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		ID:        id,
		Endpoint:  endpoint,
		header:    r.Header.Clone(),
		query:     r.URL.Query(),
		socket:    socket,
		ws:        ws,
		send:      make(chan []byte, sendBufferSize),
		logger:    logger.With(zap.String("endpoint", endpoint), zap.String("connectionID", id)),
		heartbeat: heartbeat,
		lastSent:  time.Now(),
		done:      make(chan struct{}),
	}
}

// Socket returns the connection's handler.
func (c *Conn) Socket() Socket { return c.socket }

// Header returns the headers of the upgrade request.
func (c *Conn) Header() http.Header { return c.header }

// Query returns the query parameters of the upgrade request.
func (c *Conn) Query() url.Values { return c.query }

// Send encodes msg with the socket and queues it. A full queue drops the
// message.
func (c *Conn) Send(msg any) error {
	text, err := c.socket.Cast(msg)
	if err != nil {
		return err
	}
	if !c.enqueue([]byte(text)) {
		return ErrClosed
	}
	if l, ok := c.socket.(SentListener); ok {
		l.MessageSent(msg)
	}
	return nil
}

func (c *Conn) enqueue(text []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- text:
		return true
	default:
		c.logger.Warn("send buffer full, message dropped")
		return false
	}
}

// Close sends a normal close frame and ends the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	<-c.done
	return nil
}

func (c *Conn) idle(now time.Time) bool {
	if c.heartbeat <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSent) > c.heartbeat
}

// readPump hands incoming frames to the socket until the peer goes away.
func (c *Conn) readPump() error {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			c.logger.Debug("binary frame ignored")
			continue
		}
		c.handle(string(data))
	}
}

func (c *Conn) handle(text string) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("websocket handler panicked", zap.Any("panic", p))
		}
	}()
	msg, err := c.socket.Parse(text)
	if err != nil {
		c.logger.Warn("cannot parse message", zap.Error(err))
		return
	}
	c.socket.HandleMessage(c, msg)
}

// writePump writes queued frames until the queue is closed.
func (c *Conn) writePump() {
	defer close(c.done)
	defer c.ws.Close()
	for text := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, text); err != nil {
			c.logger.Warn("write failed", zap.Error(err))
			c.drain()
			return
		}
		c.mu.Lock()
		c.lastSent = time.Now()
		c.mu.Unlock()
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// drain discards frames queued after a failed write until Close.
func (c *Conn) drain() {
	go func() {
		for range c.send {
		}
	}()
}
