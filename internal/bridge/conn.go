package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/proto"
	"github.com/matst80/ws2s/internal/target"
)

// conn is guarded by Client.mu.
type conn struct {
	h      Handle
	target target.Target
	state  State
	tr     Transport
	ctx    context.Context
	cancel context.CancelFunc

	onConnect func()
	onError   func(string)
	notified  bool // onConnect or onError has been posted

	inbound [][]byte
	read    *readOp
	write   *writeOp
	closers []func()
}

type readOp struct{ cb func(ReadResult) }

type writeOp struct{ cb func(WriteResult) }

var errClosedDuringHandshake = errors.New("connection closed during handshake")

func (cl *Client) handshake(c *conn) {
	ctx, cancel := context.WithTimeout(c.ctx, cl.opts.HandshakeTimeout)
	defer cancel()

	tr, err := cl.opts.Dialer.Dial(ctx, c.target.Bridge)
	var early [][]byte
	if err == nil {
		early, err = cl.negotiate(ctx, tr, c.target)
		if err != nil {
			_ = tr.Close("handshake failed")
			tr = nil
		}
	}

	cl.mu.Lock()
	if c.state == Closing {
		cl.notifyError(c, errClosedDuringHandshake.Error())
		cl.mu.Unlock()
		if tr != nil {
			_ = tr.Close("closed")
		}
		c.cancel()
		cl.finishClose(c)
		return
	}
	if err != nil {
		cl.setState(c, Failed)
		cl.notifyError(c, err.Error())
		cl.mu.Unlock()
		c.cancel()
		obs.ClientHandshakeFailures.Inc()
		obs.Error("client.handshake", obs.Fields{"handle": uint64(c.h), "target": c.target.String(), "err": err.Error()})
		return
	}
	c.tr = tr
	c.inbound = append(c.inbound, early...)
	cl.setState(c, Open)
	c.notified = true
	if fn := c.onConnect; fn != nil {
		cl.loop.post(fn)
	}
	cl.mu.Unlock()

	obs.Info("client.open", obs.Fields{"handle": uint64(c.h), "target": c.target.String()})
	go cl.readLoop(c, tr)
	if cl.opts.PingInterval > 0 {
		go cl.keepalive(c, tr)
	}
}

// negotiate asks the bridge to dial the target and waits for "connect done".
// Data that races ahead of the acknowledgement is returned for the inbound queue.
func (cl *Client) negotiate(ctx context.Context, tr Transport, t target.Target) ([][]byte, error) {
	msg, err := proto.Marshal(proto.Connect(t.Host, t.Port))
	if err != nil {
		return nil, err
	}
	if err := tr.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}
	var early [][]byte
	for {
		b, err := tr.Recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for connect: %w", err)
		}
		resp, err := proto.UnmarshalResponse(b)
		if err != nil {
			obs.ErrorsTotal.WithLabelValues("bad_response").Inc()
			continue
		}
		switch {
		case resp.Code == proto.CodeOK && resp.Message == proto.MsgConnectDone:
			return early, nil
		case resp.Code == proto.CodeOK:
		case resp.Code == proto.CodeData:
			if data, err := resp.Bytes(); err == nil && len(data) > 0 {
				early = append(early, data)
			}
		default:
			return nil, fmt.Errorf("bridge refused connect (code %d): %s", resp.Code, resp.Message)
		}
	}
}

func (cl *Client) readLoop(c *conn, tr Transport) {
	for {
		b, err := tr.Recv(c.ctx)
		if err != nil {
			cl.fail(c, fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		resp, err := proto.UnmarshalResponse(b)
		if err != nil {
			obs.Error("client.response.json", obs.Fields{"handle": uint64(c.h), "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("bad_response").Inc()
			continue
		}
		switch {
		case resp.Code == proto.CodeData:
			data, err := resp.Bytes()
			if err != nil {
				obs.Error("client.response.data", obs.Fields{"handle": uint64(c.h), "err": err.Error()})
				obs.ErrorsTotal.WithLabelValues("bad_data").Inc()
				continue
			}
			cl.deliver(c, data)
		case resp.Fatal():
			cl.fail(c, fmt.Errorf("%w: %s", ErrTransport, resp.Message))
			return
		case resp.Code == proto.CodeOK:
			obs.Debug("client.response.ok", obs.Fields{"handle": uint64(c.h), "msg": resp.Message})
		default:
			obs.Error("client.response.code", obs.Fields{"handle": uint64(c.h), "code": resp.Code, "msg": resp.Message})
			obs.ErrorsTotal.WithLabelValues("bridge_error").Inc()
		}
	}
}

func (cl *Client) keepalive(c *conn, tr Transport) {
	msg, _ := proto.Marshal(proto.Command{Command: proto.CmdPing})
	t := time.NewTicker(cl.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, cl.opts.WriteTimeout)
			err := tr.Send(ctx, msg)
			cancel()
			if err != nil {
				cl.fail(c, fmt.Errorf("%w: ping: %v", ErrTransport, err))
				return
			}
		}
	}
}

func (cl *Client) doWrite(c *conn, tr Transport, op *writeOp, msg []byte, n int) {
	ctx, cancel := context.WithTimeout(c.ctx, cl.opts.WriteTimeout)
	err := tr.Send(ctx, msg)
	cancel()
	if err != nil {
		err = fmt.Errorf("%w: write: %v", ErrTransport, err)
	}

	cl.mu.Lock()
	if c.write == op {
		c.write = nil
		res := WriteResult{N: n, Err: err}
		if err != nil {
			res.N = 0
		} else {
			obs.ClientBytesTotal.WithLabelValues("out").Add(float64(n))
		}
		cl.loop.post(func() { op.cb(res) })
	}
	cl.mu.Unlock()
	if err != nil {
		cl.fail(c, err)
	}
}

func (cl *Client) deliver(c *conn, data []byte) {
	if len(data) == 0 {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if c.state != Open {
		return
	}
	obs.ClientBytesTotal.WithLabelValues("in").Add(float64(len(data)))
	if op := c.read; op != nil {
		c.read = nil
		cl.loop.post(func() { op.cb(ReadResult{Data: data}) })
		return
	}
	c.inbound = append(c.inbound, data)
}

// fail moves an Open connection to Failed and releases its transport. Chunks
// already queued stay readable until drained.
func (cl *Client) fail(c *conn, err error) {
	cl.mu.Lock()
	if c.state != Open {
		cl.mu.Unlock()
		return
	}
	cl.setState(c, Failed)
	cl.failPending(c, err)
	tr := c.tr
	c.tr = nil
	cl.mu.Unlock()

	obs.Error("client.failed", obs.Fields{"handle": uint64(c.h), "target": c.target.String(), "err": err.Error()})
	obs.ErrorsTotal.WithLabelValues("transport").Inc()
	if tr != nil {
		_ = tr.Close("transport failure")
	}
	c.cancel()
}

// failPending completes outstanding read and write with err. Caller holds cl.mu.
func (cl *Client) failPending(c *conn, err error) {
	if op := c.read; op != nil {
		c.read = nil
		cl.loop.post(func() { op.cb(ReadResult{Err: err}) })
	}
	if op := c.write; op != nil {
		c.write = nil
		cl.loop.post(func() { op.cb(WriteResult{Err: err}) })
	}
}

// teardown finishes an explicit Close of an Open connection.
func (cl *Client) teardown(c *conn, tr Transport) {
	if tr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		if msg, err := proto.Marshal(proto.Command{Command: proto.CmdClose}); err == nil {
			_ = tr.Send(ctx, msg)
		}
		cancel()
		_ = tr.Close("closed by client")
	}
	c.cancel()
	cl.finishClose(c)
	obs.Info("client.closed", obs.Fields{"handle": uint64(c.h), "target": c.target.String()})
}

func (cl *Client) finishClose(c *conn) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.setState(c, Closed)
	c.inbound = nil
	for _, fn := range c.closers {
		cl.loop.post(fn)
	}
	c.closers = nil
}

// notifyError posts onError unless a connect outcome was already posted.
// Caller holds cl.mu.
func (cl *Client) notifyError(c *conn, msg string) {
	if c.notified {
		return
	}
	c.notified = true
	if fn := c.onError; fn != nil {
		cl.loop.post(func() { fn(msg) })
	}
}
