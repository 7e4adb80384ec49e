package main

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/matst80/ws2s/internal/bridge"
)

// handleStream adapts a tunnel handle to io.Reader and io.Writer. A failed or
// closed tunnel reads as EOF.
type handleStream struct {
	cl      *bridge.Client
	h       bridge.Handle
	timeout time.Duration

	buf     []byte
	pending <-chan bridge.ReadResult
}

func newHandleStream(cl *bridge.Client, h bridge.Handle, timeout time.Duration) *handleStream {
	return &handleStream{cl: cl, h: h, timeout: timeout}
}

// prime makes sure a read is pending. Once a failed handle has been drained
// the read is refused, which surfaces as EOF.
func (s *handleStream) prime() error {
	if s.pending != nil || len(s.buf) > 0 {
		return nil
	}
	ch, err := s.cl.ReadChan(s.h)
	if err != nil {
		if errors.Is(err, bridge.ErrInvalidState) || errors.Is(err, bridge.ErrInvalidHandle) {
			return io.EOF
		}
		return err
	}
	s.pending = ch
	return nil
}

func (s *handleStream) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		if err := s.prime(); err != nil {
			return 0, err
		}
		var timeout <-chan time.Time
		if s.timeout > 0 {
			t := time.NewTimer(s.timeout)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case r := <-s.pending:
			s.pending = nil
			if r.Err != nil {
				return 0, io.EOF
			}
			s.buf = r.Data
		case <-timeout:
			// the read stays pending for the next call
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *handleStream) Write(p []byte) (int, error) {
	ch, err := s.cl.WriteChan(s.h, p)
	if err != nil {
		return 0, err
	}
	r := <-ch
	return r.N, r.Err
}
