package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultSendBuffer   = 256

	// GoingAwayReason accompanies the 1001 close sent on shutdown
	GoingAwayReason = "Server shutting down"
)

// ConnectionOptions tunes a Connection's writer.
type ConnectionOptions struct {
	WriteTimeout time.Duration
	SendBuffer   int
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions.
// All data frames go through writeCh to one writer goroutine; control frames
// (ping, close) use WriteControl which gorilla allows concurrently.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	userID       string
	name         string
	writeTimeout time.Duration
	alive        atomic.Bool // cleared by the heartbeat, set by pong
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	logger       zerolog.Logger
}

// NewConnection wraps an upgraded socket for an authenticated identity and
// starts its writer goroutine.
func NewConnection(conn *websocket.Conn, userID, name string, opts ConnectionOptions, logger zerolog.Logger) *Connection {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, opts.SendBuffer),
		userID:       userID,
		name:         name,
		writeTimeout: opts.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With().Str("user_id", userID).Logger(),
	}
	c.alive.Store(true)

	conn.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed; the loop exits on ctx so late Push calls cannot panic.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing connection")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON serializes v and queues it without blocking.
// A full buffer means the client stopped reading; the connection is closed
// rather than stalling whoever is pushing.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn().Msg("send buffer full, closing slow connection")
		_ = c.Close()
		return ErrBufferFull
	}
}

// Push is the best-effort send used by the engine and fan-out.
func (c *Connection) Push(v interface{}) bool {
	return c.WriteJSON(v) == nil
}

// GetUserID returns the authenticated identity
func (c *Connection) GetUserID() string {
	return c.userID
}

// GetName returns the display name from the token, possibly empty
func (c *Connection) GetName() string {
	return c.name
}

// MarkAlive records a pong.
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
}

// Alive reports whether a pong arrived since the last heartbeat tick.
func (c *Connection) Alive() bool {
	return c.alive.Load()
}

// CheckAlive reports whether a pong arrived since the previous check and
// clears the flag for the next interval.
func (c *Connection) CheckAlive() bool {
	return c.alive.Swap(false)
}

// Ping sends a transport-level ping frame.
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Terminate drops the socket without a close handshake.
func (c *Connection) Terminate() {
	_ = c.Close()
}

// CloseGoingAway sends a 1001 close frame with reason, then closes the socket.
func (c *Connection) CloseGoingAway(reason string) error {
	if c.IsClosed() {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// IsClosed reports whether Close has run.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
