package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Channel flavours of the callback API. Each returned channel is buffered and
// receives exactly one value, so callers may drop it without leaking the
// dispatcher.

func (cl *Client) ReadChan(h Handle) (<-chan ReadResult, error) {
	ch := make(chan ReadResult, 1)
	if err := cl.Read(h, func(r ReadResult) { ch <- r }); err != nil {
		return nil, err
	}
	return ch, nil
}

func (cl *Client) WriteChan(h Handle, data []byte) (<-chan WriteResult, error) {
	ch := make(chan WriteResult, 1)
	if err := cl.Write(h, data, func(r WriteResult) { ch <- r }); err != nil {
		return nil, err
	}
	return ch, nil
}

func (cl *Client) CloseChan(h Handle) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	if err := cl.Close(h, func() { ch <- struct{}{} }); err != nil {
		return nil, err
	}
	return ch, nil
}

// ConnectWait connects and blocks until the handshake outcome or ctx is done.
// cfg's own callbacks still fire. On failure the handle is closed.
func (cl *Client) ConnectWait(ctx context.Context, cfg Config) (Handle, error) {
	result := make(chan error, 1)
	onConnect, onError := cfg.OnConnect, cfg.OnError
	cfg.OnConnect = func() {
		if onConnect != nil {
			onConnect()
		}
		result <- nil
	}
	cfg.OnError = func(msg string) {
		if onError != nil {
			onError(msg)
		}
		result <- errors.New(msg)
	}
	h, err := cl.Connect(cfg)
	if err != nil {
		return 0, err
	}
	select {
	case err := <-result:
		if err != nil {
			_ = cl.Close(h, nil)
			return 0, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return h, nil
	case <-ctx.Done():
		_ = cl.Close(h, nil)
		return 0, ctx.Err()
	}
}
