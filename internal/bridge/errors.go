package bridge

import "errors"

// Synchronous failures are returned wrapped around one of these; asynchronous
// ones arrive in ReadResult.Err / WriteResult.Err. Use errors.Is.
var (
	// ErrConfig: malformed bridge URL, destination host or port.
	ErrConfig = errors.New("ws2s: invalid config")
	// ErrInvalidState: the connection is not Open, or an operation of the
	// same kind is already pending.
	ErrInvalidState = errors.New("ws2s: invalid state")
	// ErrInvalidHandle: unknown handle, or one that has been closed.
	ErrInvalidHandle = errors.New("ws2s: invalid handle")
	// ErrTransport: handshake or in-flight I/O failure.
	ErrTransport = errors.New("ws2s: transport error")
	// ErrClosed completes reads and writes cut short by Close.
	ErrClosed = errors.New("ws2s: connection closed")
)
