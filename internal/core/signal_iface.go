package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound event.
type Frame []byte

// ConnID identifies one transport connection for its whole lifetime.
type ConnID string

// SignalConnection abstracts the client messaging transport.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
