package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/types"
)

// Transport owns a Channel and splits inbound frames into two independent
// FIFO queues: control envelopes and raw protocol messages.
type Transport struct {
	ch       Channel
	logger   *zap.Logger
	control  *Queue[types.Envelope]
	protocol *Queue[[]byte]

	sendMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

type Option func(*Transport)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New takes ownership of ch and starts reading from it immediately, so frames
// that arrive before any consumer subscribes are buffered.
func New(ch Channel, opts ...Option) *Transport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &Transport{
		ch:       ch,
		logger:   zap.NewNop(),
		control:  NewQueue[types.Envelope](),
		protocol: NewQueue[[]byte](),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.logger = t.logger.Named("transport")

	go t.pump(ctx)

	return t
}

func (t *Transport) pump(ctx context.Context) {
	defer close(t.done)

	for {
		f, err := t.ch.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				err = ErrClosed
			}

			t.fail(&TransportError{Op: "receive", Err: err})

			return
		}

		t.dispatch(f)
	}
}

func (t *Transport) dispatch(f Frame) {
	switch f.Kind {
	case FrameBinary:
		if err := t.protocol.Push(f.Data); err != nil {
			t.logger.Warn("dropping protocol message", zap.Error(err))
		}
	case FrameText:
		if !gjson.ValidBytes(f.Data) || gjson.GetBytes(f.Data, "type").String() != types.EnvelopeData {
			t.logger.Warn("unknown message type received", zap.Int("bytes", len(f.Data)))
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			t.logger.Warn("malformed envelope", zap.Error(err))
			return
		}

		if err := t.control.Push(env); err != nil {
			t.logger.Warn("dropping control message", zap.Error(err))
		}
	default:
		t.logger.Warn("unknown frame kind", zap.Stringer("kind", f.Kind))
	}
}

func (t *Transport) fail(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()

	t.logger.Debug("transport stopped", zap.Error(err))

	t.control.Close(err)
	t.protocol.Close(err)
}

// Err reports why the transport stopped, or nil while it is running.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()

	return t.err
}

// Done is closed once the inbound side has stopped.
func (t *Transport) Done() <-chan struct{} { return t.done }

// SendControl wraps payload in a DATA envelope and writes it. Arbitrary
// precision integers anywhere in payload are sent in tagged form.
func (t *Transport) SendControl(ctx context.Context, payload any) error {
	raw, err := types.EncodeGeneric(payload)
	if err != nil {
		return fmt.Errorf("encode control payload: %w", err)
	}

	data, err := json.Marshal(types.Envelope{Type: types.EnvelopeData, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return t.send(ctx, Frame{Kind: FrameText, Data: data})
}

// SendProtocol writes one opaque protocol message.
func (t *Transport) SendProtocol(ctx context.Context, msg []byte) error {
	return t.send(ctx, Frame{Kind: FrameBinary, Data: msg})
}

func (t *Transport) send(ctx context.Context, f Frame) error {
	if err := t.Err(); err != nil {
		return err
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if err := t.ch.Send(ctx, f); err != nil {
		var terr *TransportError
		if errors.As(err, &terr) {
			return err
		}

		return &TransportError{Op: "send", Err: err}
	}

	return nil
}

// ClaimControl returns the exclusive consumer of control envelopes.
func (t *Transport) ClaimControl() (*Subscription[types.Envelope], error) {
	return t.control.Claim()
}

// ClaimProtocol returns the exclusive consumer of protocol messages. Only one
// secure-computation session may hold it at a time.
func (t *Transport) ClaimProtocol() (*Subscription[[]byte], error) {
	return t.protocol.Claim()
}

// Close releases the channel and stops the reader.
func (t *Transport) Close() error {
	t.cancel()
	err := t.ch.Close()
	<-t.done

	return err
}
