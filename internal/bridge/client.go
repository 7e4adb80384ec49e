// Package bridge is a client for WS2S (WebSocket-to-Socket) bridges.
//
// A Client owns a table of connections addressed by Handle. Connect, Write,
// Read and Close never block: each returns at once, failing synchronously on
// misuse, and reports its outcome later through a callback. Every callback of
// a Client runs on one dispatcher goroutine, in completion order, exactly once.
// At most one read and one write may be pending per handle.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/proto"
	"github.com/matst80/ws2s/internal/target"
)

// Handle identifies a connection within its Client. Zero is never issued.
type Handle uint64

// Config describes one tunnel. Port is kept as text, the way users type it;
// Connect rejects anything that is not a decimal in 1..65535.
type Config struct {
	BridgeURL string
	Host      string
	Port      string
	OnConnect func()
	OnError   func(msg string)
}

// Options tune a Client. Zero values pick the defaults.
type Options struct {
	Dialer           Dialer
	HandshakeTimeout time.Duration // default 10s
	WriteTimeout     time.Duration // default 10s
	PingInterval     time.Duration // default 5s, negative disables keepalive
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 5 * time.Second
	closeGrace              = 2 * time.Second
)

type Client struct {
	opts  Options
	loop  *loop
	mu    sync.Mutex
	next  Handle
	conns map[Handle]*conn
	shut  bool

	// stopped is set once the dispatcher no longer runs callbacks.
	stopped bool
}

var errStopped = fmt.Errorf("%w: client shut down", ErrInvalidState)

func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{ReadLimit: 1 << 20}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Client{opts: opts, loop: newLoop(), conns: make(map[Handle]*conn)}
}

// Connect validates cfg and starts the handshake in the background. Exactly
// one of cfg.OnConnect or cfg.OnError fires later.
func (cl *Client) Connect(cfg Config) (Handle, error) {
	t, err := target.Parse(cfg.BridgeURL, cfg.Host, cfg.Port)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cl.mu.Lock()
	if cl.shut {
		cl.mu.Unlock()
		return 0, fmt.Errorf("%w: client shut down", ErrInvalidState)
	}
	cl.next++
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		h:         cl.next,
		target:    t,
		ctx:       ctx,
		cancel:    cancel,
		onConnect: cfg.OnConnect,
		onError:   cfg.OnError,
	}
	cl.conns[c.h] = c
	cl.setState(c, Connecting)
	cl.mu.Unlock()

	obs.Debug("client.connect", obs.Fields{"handle": uint64(c.h), "bridge": t.Bridge, "target": t.Addr()})
	go cl.handshake(c)
	return c.h, nil
}

// Write sends data through the tunnel. cb receives the transmission result.
func (cl *Client) Write(h Handle, data []byte, cb func(WriteResult)) error {
	if cb == nil {
		cb = func(WriteResult) {}
	}
	msg, err := proto.Marshal(proto.SendBytes(data))
	if err != nil {
		return err
	}
	cl.mu.Lock()
	if cl.stopped {
		cl.mu.Unlock()
		return errStopped
	}
	c, err := cl.openConn(h)
	if err != nil {
		cl.mu.Unlock()
		return err
	}
	if c.write != nil {
		cl.mu.Unlock()
		return fmt.Errorf("%w: write already pending on handle %d", ErrInvalidState, h)
	}
	op := &writeOp{cb: cb}
	c.write = op
	tr := c.tr
	cl.mu.Unlock()

	go cl.doWrite(c, tr, op, msg, len(data))
	return nil
}

// WriteString writes s encoded as UTF-8.
func (cl *Client) WriteString(h Handle, s string, cb func(WriteResult)) error {
	return cl.Write(h, []byte(s), cb)
}

// Read asks for the next inbound chunk. Chunks received while no read is
// pending are queued in order. A Failed handle still hands out what was
// queued before the failure, then rejects reads with ErrInvalidState.
func (cl *Client) Read(h Handle, cb func(ReadResult)) error {
	if cb == nil {
		cb = func(ReadResult) {}
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.stopped {
		return errStopped
	}
	c, err := cl.readableConn(h)
	if err != nil {
		return err
	}
	if c.read != nil {
		return fmt.Errorf("%w: read already pending on handle %d", ErrInvalidState, h)
	}
	if len(c.inbound) > 0 {
		data := c.inbound[0]
		c.inbound[0] = nil
		c.inbound = c.inbound[1:]
		cl.loop.post(func() { cb(ReadResult{Data: data}) })
		return nil
	}
	c.read = &readOp{cb: cb}
	return nil
}

// Close tears the connection down. Pending read/write callbacks complete
// with ErrClosed before cb runs. Closing a closed handle only runs cb. Once
// Shutdown has stopped the dispatcher Close fails with ErrInvalidState.
func (cl *Client) Close(h Handle, cb func()) error {
	if cb == nil {
		cb = func() {}
	}
	cl.mu.Lock()
	if cl.stopped {
		cl.mu.Unlock()
		return errStopped
	}
	c, ok := cl.conns[h]
	if !ok {
		cl.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	switch c.state {
	case Closed:
		cl.loop.post(cb)
		cl.mu.Unlock()
	case Closing:
		c.closers = append(c.closers, cb)
		cl.mu.Unlock()
	case Failed:
		cl.setState(c, Closed)
		c.inbound = nil
		cl.loop.post(cb)
		cl.mu.Unlock()
	case Connecting:
		// the handshake goroutine notices and finishes the close
		cl.setState(c, Closing)
		c.closers = append(c.closers, cb)
		c.cancel()
		cl.mu.Unlock()
	case Open:
		cl.setState(c, Closing)
		c.closers = append(c.closers, cb)
		cl.failPending(c, ErrClosed)
		tr := c.tr
		c.tr = nil
		cl.mu.Unlock()
		go cl.teardown(c, tr)
	default:
		cl.mu.Unlock()
		return fmt.Errorf("%w: handle %d is %s", ErrInvalidState, h, c.state)
	}
	return nil
}

// State reports the current state of h.
func (cl *Client) State(h Handle) (State, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c, ok := cl.conns[h]
	if !ok {
		return Idle, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return c.state, nil
}

// Target returns the validated destination of h.
func (cl *Client) Target(h Handle) (target.Target, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	c, ok := cl.conns[h]
	if !ok {
		return target.Target{}, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return c.target, nil
}

// Shutdown closes every connection, waits for their callbacks and stops the
// dispatcher. The Client accepts no new connections afterwards.
func (cl *Client) Shutdown(ctx context.Context) error {
	cl.mu.Lock()
	cl.shut = true
	handles := make([]Handle, 0, len(cl.conns))
	for h, c := range cl.conns {
		if c.state != Closed {
			handles = append(handles, h)
		}
	}
	cl.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		if err := cl.Close(h, wg.Done); err != nil {
			wg.Done()
		}
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	cl.mu.Lock()
	cl.stopped = true
	cl.mu.Unlock()
	cl.loop.stop()
	select {
	case <-cl.loop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openConn returns the connection for h if reads and writes are allowed.
// Caller holds cl.mu.
func (cl *Client) openConn(h Handle) (*conn, error) {
	c, ok := cl.conns[h]
	if !ok || c.state == Closed {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if c.state != Open {
		return nil, fmt.Errorf("%w: handle %d is %s", ErrInvalidState, h, c.state)
	}
	return c, nil
}

// readableConn is openConn that also admits a Failed connection with queued
// chunks. Caller holds cl.mu.
func (cl *Client) readableConn(h Handle) (*conn, error) {
	if c, ok := cl.conns[h]; ok && c.state == Failed && len(c.inbound) > 0 {
		return c, nil
	}
	return cl.openConn(h)
}

// setState moves c and keeps the per-state gauge in step. Caller holds cl.mu.
func (cl *Client) setState(c *conn, s State) {
	if c.state != Idle {
		obs.ClientConnections.WithLabelValues(c.state.String()).Dec()
	}
	c.state = s
	obs.ClientConnections.WithLabelValues(s.String()).Inc()
}
