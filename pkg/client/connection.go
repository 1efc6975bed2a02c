package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/morezero/livequery/pkg/protocol"
)

const connLogPrefix = "client:connection"

// Status is the connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	// StatusFailed is permanent: reconnection gave up after Options.MaxAttempts.
	StatusFailed Status = "failed"
)

var (
	// ErrNotConnected is returned by SendMessage when the connection is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("connection closed")
)

// Connection owns one websocket to the server and keeps it open with exponential backoff.
type Connection struct {
	opts Options

	mu         sync.Mutex
	status     Status
	conn       *websocket.Conn
	running    bool
	closed     bool
	msgSubs    map[uint64]func(*protocol.Message)
	statusSubs map[uint64]func(Status)
	nextSub    uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// onBackoff observes every scheduled reconnection delay.
	onBackoff func(time.Duration)
}

// NewConnection creates a Connection in StatusDisconnected. Call Connect to open it.
func NewConnection(opts Options) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		opts:       opts.withDefaults(),
		status:     StatusDisconnected,
		msgSubs:    make(map[uint64]func(*protocol.Message)),
		statusSubs: make(map[uint64]func(Status)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Connect starts the connection loop. It is a no-op while connecting or connected, after the
// connection has failed permanently, and after Close.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.connectLoop()
}

// Status returns the current status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SendMessage writes msg if the connection is open. It fails fast with ErrNotConnected otherwise;
// retrying is the caller's responsibility.
func (c *Connection) SendMessage(ctx context.Context, msg *protocol.Message) error {
	c.mu.Lock()
	conn, status, closed := c.conn, c.status, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil || status != StatusConnected {
		slog.Warn(fmt.Sprintf("%s - dropping %s id=%s: status %s", connLogPrefix, msg.Type, msg.ID, status))
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%s - failed to send %s: %w", connLogPrefix, msg.Type, err)
	}
	return nil
}

// SubscribeToMessages registers fn for every inbound message, delivered in arrival order from a
// single goroutine.
func (c *Connection) SubscribeToMessages(fn func(*protocol.Message)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.msgSubs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.msgSubs, id)
		c.mu.Unlock()
	}
}

// SubscribeToStatus calls fn with the current status immediately, then on every transition.
func (c *Connection) SubscribeToStatus(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.statusSubs[id] = fn
	current := c.status
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}
}

// Close stops reconnection and closes the socket. Subsequent sends fail with ErrClosed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running := c.running
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if running {
		<-c.done
	}
	return nil
}

func (c *Connection) connectLoop() {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	failures := 0
	for {
		if c.ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return
		}

		c.setStatus(StatusConnecting)
		conn, err := c.dial()
		if err == nil {
			failures = 0
			b.Reset()
			c.serve(conn)
		} else {
			slog.Warn(fmt.Sprintf("%s - dial %s failed: %v", connLogPrefix, c.opts.URL, err))
			failures++
		}

		c.setStatus(StatusDisconnected)
		if c.ctx.Err() != nil {
			return
		}
		if c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts {
			slog.Error(fmt.Sprintf("%s - giving up after %d attempts", connLogPrefix, failures))
			c.setStatus(StatusFailed)
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = c.opts.MaxBackoff
		}
		if c.onBackoff != nil {
			c.onBackoff(delay)
		}
		slog.Info(fmt.Sprintf("%s - reconnecting in %s", connLogPrefix, delay))

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Connection) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{HTTPHeader: c.opts.HTTPHeader})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve publishes conn, marks the connection open and reads until the socket fails.
func (c *Connection) serve(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		return
	}
	c.conn = conn
	c.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - connected to %s", connLogPrefix, c.opts.URL))
	c.setStatus(StatusConnected)

	err := c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")

	if err != nil && c.ctx.Err() == nil {
		slog.Warn(fmt.Sprintf("%s - connection lost: %v", connLogPrefix, err))
	}
}

func (c *Connection) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - ignoring malformed frame: %v", connLogPrefix, err))
			continue
		}
		c.deliver(msg)
	}
}

func (c *Connection) deliver(msg *protocol.Message) {
	c.mu.Lock()
	subs := make([]func(*protocol.Message), 0, len(c.msgSubs))
	for _, fn := range c.msgSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	subs := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - status %s", connLogPrefix, s))
	for _, fn := range subs {
		fn(s)
	}
}
