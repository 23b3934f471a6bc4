package core

import "errors"

// Frame is one encoded outbound WebSocket text message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it returns ErrBackpressure when the peer is slow
// and ErrClosed once Close has been called.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
