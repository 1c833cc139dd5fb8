// Package mpc drives an external two-party secure computation engine over a
// paired transport: join, exchange protocol messages, collect the output.
package mpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/transport"
)

// DefaultExpectedBytes approximates the traffic of one identity check run.
const DefaultExpectedBytes = 150000

// DefaultCloseGrace is how long a run keeps waiting for the engine's output
// after the transport stopped delivering messages.
const DefaultCloseGrace = 2 * time.Second

// SendFunc delivers an outbound protocol message to a party.
type SendFunc func(to Role, msg []byte) error

// Engine is the external secure computation engine, already loaded with the
// compiled predicate.
type Engine interface {
	Join(role Role, input map[string]int64, send SendFunc) (EngineSession, error)
}

type EngineSession interface {
	HandleMessage(from Role, msg []byte) error
	// Output blocks until the computation has finished.
	Output(ctx context.Context) (any, error)
}

// Finisher is implemented by engine sessions that can tell without blocking
// that they need no more messages. The driver then stops reading, leaving any
// later protocol messages queued for the next session.
type Finisher interface {
	Finished() bool
}

// ProtocolTransport is the part of transport.Transport a session needs.
type ProtocolTransport interface {
	SendProtocol(ctx context.Context, msg []byte) error
	ClaimProtocol() (*transport.Subscription[[]byte], error)
}

type State int32

const (
	StateCreated State = iota
	StateJoined
	StateExchanging
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateJoined:
		return "joined"
	case StateExchanging:
		return "exchanging"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one verification run. It cannot be reused.
type Session struct {
	id         string
	engine     Engine
	logger     *zap.Logger
	expected   int64
	progress   func(float64)
	timeout    time.Duration
	closeGrace time.Duration

	state atomic.Int32
	bytes atomic.Int64
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress receives bytesTransferred/expected after every message. It is a
// liveness hint only and may exceed 1.
func WithProgress(fn func(float64)) Option { return func(s *Session) { s.progress = fn } }

func WithExpectedBytes(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.expected = n
		}
	}
}

// WithCloseGrace sets how long to wait for the engine's output after the peer
// hung up.
func WithCloseGrace(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.closeGrace = d
		}
	}
}

// WithTimeout bounds the whole run. Zero means no limit.
func WithTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

func NewSession(engine Engine, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		engine:     engine,
		logger:     zap.NewNop(),
		expected:   DefaultExpectedBytes,
		closeGrace: DefaultCloseGrace,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.Named("mpc").With(zap.String("session", s.id))

	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) BytesTransferred() int64 { return s.bytes.Load() }

func (s *Session) Progress() float64 {
	return float64(s.bytes.Load()) / float64(s.expected)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("session state", zap.Stringer("state", st))
}

func (s *Session) count(n int) {
	total := s.bytes.Add(int64(n))
	if s.progress != nil {
		s.progress(float64(total) / float64(s.expected))
	}
}

type outcome struct {
	out any
	err error
}

// Run joins the engine as role with the role's part of inputs and drives it to
// completion over t. The protocol queue of t is claimed for the duration.
func (s *Session) Run(ctx context.Context, role Role, inputs Inputs, t ProtocolTransport) (Result, error) {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateJoined)) {
		return Result{}, ErrSessionUsed
	}

	res, err := s.run(ctx, role, inputs, t)
	if err != nil {
		s.setState(StateFailed)
		s.logger.Warn("session failed", zap.Error(err), zap.Int64("bytes", s.BytesTransferred()))

		return Result{}, err
	}

	s.setState(StateCompleted)
	s.logger.Info("session completed", zap.Int64("bytes", s.BytesTransferred()),
		zap.Bool("ageValid", res.AgeValid), zap.Bool("residencyValid", res.ResidencyValid),
		zap.Bool("nameValid", res.NameValid))

	return res, nil
}

func (s *Session) run(ctx context.Context, role Role, inputs Inputs, t ProtocolTransport) (Result, error) {
	input, err := inputs.For(role)
	if err != nil {
		return Result{}, err
	}

	sub, err := t.ClaimProtocol()
	if err != nil {
		return Result{}, fmt.Errorf("claim protocol queue: %w", err)
	}
	defer sub.Release()

	if s.timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.timeout)
		defer cancelTimeout()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	peer := role.Peer()
	fatal := make(chan error, 1)
	report := func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	send := func(to Role, msg []byte) error {
		if to != peer {
			err := &ProtocolError{Role: role, Peer: to, Reason: "message addressed to unknown party"}
			report(err)

			return err
		}

		if err := t.SendProtocol(runCtx, msg); err != nil {
			report(err)
			return err
		}

		s.count(len(msg))

		return nil
	}

	es, err := s.engine.Join(role, input, send)

	// The engine may already have tried to send during Join.
	select {
	case ferr := <-fatal:
		return Result{}, ferr
	default:
	}

	if err != nil {
		return Result{}, fmt.Errorf("engine join: %w", err)
	}

	s.setState(StateExchanging)

	finished := func() bool { return false }
	if f, ok := es.(Finisher); ok {
		finished = f.Finished
	}

	// lost carries a receive failure. The engine may already hold every
	// message it needs, so the run keeps waiting for its output for up to
	// closeGrace before giving up.
	lost := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for !finished() {
			msg, err := sub.Next(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					lost <- err
				}

				return
			}

			if err := es.HandleMessage(peer, msg); err != nil {
				report(fmt.Errorf("engine handle message: %w", err))
				return
			}

			s.count(len(msg))
		}
	}()

	outCh := make(chan outcome, 1)
	go func() {
		out, err := es.Output(runCtx)
		outCh <- outcome{out: out, err: err}
	}()

	var (
		res     outcome
		lostErr error
		grace   <-chan time.Time
	)

wait:
	for {
		select {
		case res = <-outCh:
			if res.err != nil && lostErr != nil {
				s.logger.Debug("engine output failed after receive failure", zap.Error(res.err))
				res.err = lostErr
			}

			break wait
		case err := <-fatal:
			res.err = err
			break wait
		case lostErr = <-lost:
			s.logger.Debug("receive failed, awaiting engine output", zap.Error(lostErr),
				zap.Duration("grace", s.closeGrace))

			timer := time.NewTimer(s.closeGrace)
			defer timer.Stop()

			grace = timer.C
		case <-grace:
			res.err = lostErr
			break wait
		case <-runCtx.Done():
			res.err = runCtx.Err()
			break wait
		}
	}

	cancel()
	wg.Wait()

	if res.err != nil {
		var perr *ProtocolError
		var terr *transport.TransportError

		if errors.As(res.err, &perr) || errors.As(res.err, &terr) || errors.Is(res.err, ctx.Err()) {
			return Result{}, res.err
		}

		return Result{}, fmt.Errorf("engine output: %w", res.err)
	}

	return parseOutput(res.out)
}
