package mpc

import (
	"errors"
	"fmt"
)

var (
	ErrSessionUsed = errors.New("session already run")
	ErrInvalidRole = errors.New("invalid role")
)

// ProtocolError is fatal: the engine tried to talk to someone other than the
// single counterpart, or a message arrived in a shape it cannot accept.
type ProtocolError struct {
	Role   Role
	Peer   Role
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%s -> %s): %s", e.Role, e.Peer, e.Reason)
}

// OutputShapeError means the engine finished with something other than the
// expected flag record.
type OutputShapeError struct {
	Output any
	Reason string
}

func (e *OutputShapeError) Error() string {
	return fmt.Sprintf("unexpected output %T: %s", e.Output, e.Reason)
}
