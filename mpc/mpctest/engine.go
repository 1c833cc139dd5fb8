// Package mpctest provides an in-process stand-in for the secure computation
// engine. It exchanges inputs in the clear and evaluates the identity check
// directly, so it is only fit for tests.
package mpctest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/berkmancenter/podpair/mpc"
)

// Engine evaluates ageValid, residencyValid and nameValid over the two
// parties' inputs. The zero value behaves correctly; the exported fields
// inject misbehaviour.
type Engine struct {
	// Recipient overrides the party outbound messages are addressed to.
	Recipient mpc.Role
	// Output, when non-nil, replaces the computed result.
	Output any
	// JoinErr and OutputErr are returned from Join and Output.
	JoinErr   error
	OutputErr error
	// Chunks splits the outbound input into this many messages.
	Chunks int
}

var (
	_ mpc.Engine   = (*Engine)(nil)
	_ mpc.Finisher = (*session)(nil)
)

func (e *Engine) Join(role mpc.Role, input map[string]int64, send mpc.SendFunc) (mpc.EngineSession, error) {
	if e.JoinErr != nil {
		return nil, e.JoinErr
	}

	if !role.Valid() {
		return nil, fmt.Errorf("mpctest: unknown role %q", role)
	}

	s := &session{
		engine: e,
		role:   role,
		own:    input,
		done:   make(chan struct{}),
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	to := role.Peer()
	if e.Recipient != "" {
		to = e.Recipient
	}

	for _, chunk := range split(payload, e.Chunks) {
		if err := send(to, chunk); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func split(b []byte, n int) [][]byte {
	if n <= 1 || len(b) < n {
		return [][]byte{b}
	}

	size := (len(b) + n - 1) / n
	out := make([][]byte, 0, n)

	for len(b) > 0 {
		end := size
		if end > len(b) {
			end = len(b)
		}

		out = append(out, b[:end])
		b = b[end:]
	}

	return out
}

type session struct {
	engine *Engine
	role   mpc.Role
	own    map[string]int64

	mu   sync.Mutex
	buf  []byte
	once sync.Once
	done chan struct{}
	out  map[string]any
	err  error
}

func (s *session) HandleMessage(from mpc.Role, msg []byte) error {
	if from != s.role.Peer() {
		return fmt.Errorf("mpctest: message from %q", from)
	}

	s.mu.Lock()
	s.buf = append(s.buf, msg...)
	buf := append([]byte(nil), s.buf...)
	s.mu.Unlock()

	var peer map[string]int64
	if err := json.Unmarshal(buf, &peer); err != nil {
		// Partial input; wait for the next chunk.
		return nil
	}

	s.once.Do(func() {
		s.out = evaluate(s.role, s.own, peer)
		close(s.done)
	})

	return nil
}

func (s *session) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) Output(ctx context.Context) (any, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if s.engine.OutputErr != nil {
		return nil, s.engine.OutputErr
	}

	if s.engine.Output != nil {
		return s.engine.Output, nil
	}

	return s.out, nil
}

func evaluate(role mpc.Role, own, peer map[string]int64) map[string]any {
	req, subj := own, peer
	if role == mpc.RoleSubject {
		req, subj = peer, own
	}

	return map[string]any{
		mpc.OutputAgeValid:       flag(subj[mpc.InputAge] >= req[mpc.InputMinAge]),
		mpc.OutputResidencyValid: flag(subj[mpc.InputResidency] == req[mpc.InputRequiredResidency]),
		mpc.OutputNameValid:      flag(subj[mpc.InputNameHash] == req[mpc.InputRequiredNameHash]),
	}
}

func flag(b bool) int {
	if b {
		return 1
	}

	return 0
}

// ErrEngine is a convenience failure for tests.
var ErrEngine = errors.New("mpctest: engine failure")
