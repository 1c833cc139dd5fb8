// Package exchange runs the holder and verifier sides of a paired session:
// presentation requests, selective disclosure and private checks.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/mpc"
	"github.com/berkmancenter/podpair/transport"
	"github.com/berkmancenter/podpair/types"
)

// Conn is the view of a paired transport both sides work against.
type Conn interface {
	mpc.ProtocolTransport
	SendControl(ctx context.Context, payload any) error
	ClaimControl() (*transport.Subscription[types.Envelope], error)
}

var _ Conn = (*transport.Transport)(nil)

var (
	// ErrNoEngine is returned for private checks when no engine was configured.
	ErrNoEngine = errors.New("no secure computation engine configured")
	// ErrUnusableAttribute marks a credential attribute that cannot feed a
	// private check.
	ErrUnusableAttribute = errors.New("attribute unusable as private input")
)

// DefaultFields are revealed when a request names none.
var DefaultFields = []string{
	credential.FieldAge, credential.FieldResidency, credential.FieldName, credential.FieldPhoto,
}

// Holder answers requests against one issued credential.
type Holder struct {
	record   *credential.Record
	issuerPK string
	engine   mpc.Engine
	logger   *zap.Logger
	consent  func(requested []string) []string
	mpcOpts  []mpc.Option
}

type HolderOption func(*Holder)

func WithHolderLogger(l *zap.Logger) HolderOption {
	return func(h *Holder) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithConsent lets the holder narrow what a request asks for. The returned
// names are disclosed; an empty result declines the request.
func WithConsent(fn func(requested []string) []string) HolderOption {
	return func(h *Holder) { h.consent = fn }
}

func WithHolderSessionOptions(opts ...mpc.Option) HolderOption {
	return func(h *Holder) { h.mpcOpts = append(h.mpcOpts, opts...) }
}

// NewHolder serves record, presenting issuerPK alongside every disclosure.
// engine may be nil, in which case private check requests are declined.
func NewHolder(record *credential.Record, issuerPK string, engine mpc.Engine, opts ...HolderOption) *Holder {
	h := &Holder{
		record:   record,
		issuerPK: issuerPK,
		engine:   engine,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.logger.Named("holder")

	return h
}

// Serve handles control messages until ctx is done or the transport fails.
// Requests are processed one at a time in arrival order.
func (h *Holder) Serve(ctx context.Context, c Conn) error {
	sub, err := c.ClaimControl()
	if err != nil {
		return fmt.Errorf("claim control queue: %w", err)
	}
	defer sub.Release()

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		if err := h.handle(ctx, c, env.Payload); err != nil {
			var terr *transport.TransportError
			if errors.As(err, &terr) || ctx.Err() != nil {
				return err
			}

			h.logger.Warn("request failed", zap.Error(err))
		}
	}
}

func (h *Holder) handle(ctx context.Context, c Conn, payload json.RawMessage) error {
	switch kind := gjson.GetBytes(payload, "type").String(); kind {
	case types.MessagePodRequest:
		var req types.PodRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}

		return h.Present(ctx, c, req.Fields)
	case types.MessageMpcRequest:
		var req types.MpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}

		_, err := h.PrivateCheck(ctx, c, req)

		return err
	default:
		h.logger.Debug("ignoring control message", zap.String("type", kind))
		return nil
	}
}

// Present discloses fields, or DefaultFields when fields is empty.
func (h *Holder) Present(ctx context.Context, c Conn, fields []string) error {
	if len(fields) == 0 {
		fields = DefaultFields
	}

	if h.consent != nil {
		fields = h.consent(fields)
		if len(fields) == 0 {
			h.logger.Info("disclosure declined")
			return h.decline(ctx, c, types.MessagePodRequest, "disclosure declined by holder")
		}
	}

	p, err := credential.BuildPresentation(h.record, fields)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presentation: %w", err)
	}

	h.logger.Info("sending presentation", zap.Strings("requested", fields), zap.Int("revealed", len(p.Revealed)))

	return c.SendControl(ctx, types.PodPresentation{
		Type:         types.MessagePodPresentation,
		Presentation: raw,
		IssuerPK:     h.issuerPK,
	})
}

// SubjectInputs derives the subject side of a private check from the record.
// Missing attributes contribute zero; an attribute that is present but cannot
// be used as an input is an error.
func SubjectInputs(r *credential.Record) (mpc.Inputs, error) {
	var in mpc.Inputs

	if v, ok := r.Value(credential.FieldAge); ok {
		n, ok := v.Int()
		if !ok || !n.IsInt64() {
			return mpc.Inputs{}, fmt.Errorf("%w: %s = %s", ErrUnusableAttribute, credential.FieldAge, v)
		}

		in.Age = n.Int64()
	}

	if v, ok := r.Value(credential.FieldResidency); ok {
		s, ok := v.Text()
		if !ok {
			return mpc.Inputs{}, fmt.Errorf("%w: %s = %s", ErrUnusableAttribute, credential.FieldResidency, v)
		}

		in.Residency = mpc.NameHash(s)
	}

	if v, ok := r.Value(credential.FieldName); ok {
		s, ok := v.Text()
		if !ok {
			return mpc.Inputs{}, fmt.Errorf("%w: %s = %s", ErrUnusableAttribute, credential.FieldName, v)
		}

		in.NameHash = mpc.NameHash(s)
	}

	return in, nil
}

func (h *Holder) decline(ctx context.Context, c Conn, request, reason string) error {
	return c.SendControl(ctx, types.Declined{Type: types.MessageDeclined, Request: request, Reason: reason})
}

// PrivateCheck joins a private check as the subject. A check the holder cannot
// take part in is declined to the verifier before any protocol message flows.
func (h *Holder) PrivateCheck(ctx context.Context, c Conn, req types.MpcRequest) (mpc.Result, error) {
	inputs, err := SubjectInputs(h.record)
	if h.engine == nil {
		err = ErrNoEngine
	}

	if err != nil {
		if derr := h.decline(ctx, c, types.MessageMpcRequest, err.Error()); derr != nil {
			return mpc.Result{}, derr
		}

		return mpc.Result{}, err
	}

	log := h.logger.With(zap.Stringer("minAge", req.MinAge.Value()), zap.Bool("checkName", req.CheckName))
	log.Info("joining private check")

	if err := c.SendControl(ctx, types.MpcAccepted{Type: types.MessageMpcAccepted}); err != nil {
		return mpc.Result{}, err
	}

	opts := append([]mpc.Option{mpc.WithLogger(h.logger)}, h.mpcOpts...)

	res, err := mpc.NewSession(h.engine, opts...).Run(ctx, mpc.RoleSubject, inputs, c)
	if err != nil {
		return mpc.Result{}, err
	}

	log.Info("private check finished", zap.Bool("ageValid", res.AgeValid), zap.Bool("nameValid", res.NameValid))

	return res, nil
}
