// Package transport carries both application messages and secure-computation
// protocol messages over one paired, ordered, bidirectional channel.
package transport

import (
	"context"
	"errors"
	"fmt"
)

type FrameKind uint8

const (
	// FrameText carries a JSON control/data envelope.
	FrameText FrameKind = iota + 1
	// FrameBinary carries an opaque protocol message.
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

type Frame struct {
	Kind FrameKind
	Data []byte
}

// Channel is an established pairing between exactly two parties. Frames are
// delivered in order. Implementations must allow Send and Recv to be called
// from different goroutines.
type Channel interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

var (
	ErrClosed         = errors.New("channel closed")
	ErrAlreadyClaimed = errors.New("queue already has a consumer")
	ErrReleased       = errors.New("subscription released")
)

// TransportError reports a failure of the underlying channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
