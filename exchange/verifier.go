package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/mpc"
	"github.com/berkmancenter/podpair/policy"
	"github.com/berkmancenter/podpair/types"
)

// Outcome is the verifier's view of one disclosure.
type Outcome struct {
	credential.Result

	// IssuerKey is the key the holder claimed; Result.Valid implies it signed.
	IssuerKey string
	Trusted   bool
	// TrustErr is set when a strict trust list rejects IssuerKey.
	TrustErr error

	Requirements map[string]error
	Satisfied    bool
}

// Accepted reports a valid presentation from an acceptable issuer that meets
// every requirement.
func (o Outcome) Accepted() bool {
	return o.Valid && o.TrustErr == nil && o.Satisfied
}

// PrivateCheck describes what the verifier wants checked without disclosure.
// Empty Name or Residency leaves that check out of the request.
type PrivateCheck struct {
	MinAge    int64
	Name      string
	Residency string
}

func (pc PrivateCheck) inputs() mpc.Inputs {
	return mpc.Inputs{
		MinAge:            pc.MinAge,
		RequiredNameHash:  mpc.NameHash(pc.Name),
		RequiredResidency: mpc.NameHash(pc.Residency),
	}
}

type Verifier struct {
	verifier *credential.Verifier
	trust    *policy.TrustList
	engine   mpc.Engine
	logger   *zap.Logger
	mpcOpts  []mpc.Option
}

type VerifierOption func(*Verifier)

func WithVerifierLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

func WithTrustList(t *policy.TrustList) VerifierOption {
	return func(v *Verifier) { v.trust = t }
}

func WithVerifierSessionOptions(opts ...mpc.Option) VerifierOption {
	return func(v *Verifier) { v.mpcOpts = append(v.mpcOpts, opts...) }
}

// NewVerifier returns a verifier side. engine may be nil when only
// disclosures are requested.
func NewVerifier(engine mpc.Engine, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		engine: engine,
		logger: zap.NewNop(),
		trust:  policy.NewTrustList(policy.TrustWarn),
	}

	for _, opt := range opts {
		opt(v)
	}

	v.logger = v.logger.Named("verifier")
	v.verifier = credential.NewVerifier(v.logger)

	return v
}

// RequestPresentation asks for fields and waits for the holder's answer.
// Verification failures are reported in the Outcome; only transport failures
// and cancellation return an error.
func (v *Verifier) RequestPresentation(ctx context.Context, c Conn, fields []string, reqs ...policy.Requirement) (Outcome, error) {
	sub, err := c.ClaimControl()
	if err != nil {
		return Outcome{}, fmt.Errorf("claim control queue: %w", err)
	}
	defer sub.Release()

	if fields == nil {
		fields = []string{}
	}

	if err := c.SendControl(ctx, types.PodRequest{Type: types.MessagePodRequest, Fields: fields}); err != nil {
		return Outcome{}, err
	}

	for {
		env, err := sub.Next(ctx)
		if err != nil {
			return Outcome{}, err
		}

		kind := gjson.GetBytes(env.Payload, "type").String()
		if derr := declined(env.Payload, types.MessagePodRequest); derr != nil {
			return Outcome{}, derr
		}

		if kind != types.MessagePodPresentation {
			v.logger.Debug("ignoring control message", zap.String("type", kind))
			continue
		}

		var msg types.PodPresentation
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return v.evaluate(credential.Result{Reason: fmt.Errorf("%w: %v", credential.ErrParse, err)}, "", reqs), nil
		}

		return v.VerifyPresentation(msg.Presentation, msg.IssuerPK, reqs...), nil
	}
}

// VerifyPresentation checks a presentation received out of band against the
// claimed issuer key, the trust list and reqs.
func (v *Verifier) VerifyPresentation(data []byte, issuerKey string, reqs ...policy.Requirement) Outcome {
	return v.evaluate(v.verifier.VerifyJSON(data, issuerKey), issuerKey, reqs)
}

func (v *Verifier) evaluate(res credential.Result, issuerKey string, reqs []policy.Requirement) Outcome {
	out := Outcome{Result: res, IssuerKey: issuerKey}
	if !res.Valid {
		v.logger.Info("presentation rejected", zap.Error(res.Reason))
		return out
	}

	out.Trusted, out.TrustErr = v.trust.Evaluate(issuerKey)
	if !out.Trusted && v.trust.Len() > 0 {
		v.logger.Warn("issuer not in trust list", zap.String("issuer", issuerKey), zap.Error(out.TrustErr))
	}

	out.Requirements, out.Satisfied = policy.CheckAll(res.Revealed, reqs)

	v.logger.Info("presentation verified",
		zap.Bool("trusted", out.Trusted), zap.Bool("satisfied", out.Satisfied), zap.Int("revealed", len(res.Revealed)))

	return out
}

// DeclinedError reports that the holder refused a request.
type DeclinedError struct {
	Request string
	Reason  string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("holder declined %s: %s", e.Request, e.Reason)
}

// declined returns a *DeclinedError when payload declines request.
func declined(payload []byte, request string) error {
	if gjson.GetBytes(payload, "type").String() != types.MessageDeclined ||
		gjson.GetBytes(payload, "request").String() != request {
		return nil
	}

	return &DeclinedError{Request: request, Reason: gjson.GetBytes(payload, "reason").String()}
}

// RequestPrivateCheck announces a private check and, once the holder accepts,
// runs it as the requirement side. Only the result flags are learned.
func (v *Verifier) RequestPrivateCheck(ctx context.Context, c Conn, check PrivateCheck) (mpc.Result, error) {
	if v.engine == nil {
		return mpc.Result{}, ErrNoEngine
	}

	sub, err := c.ClaimControl()
	if err != nil {
		return mpc.Result{}, fmt.Errorf("claim control queue: %w", err)
	}
	defer sub.Release()

	err = c.SendControl(ctx, types.MpcRequest{
		Type:           types.MessageMpcRequest,
		MinAge:         types.NewBigInt(check.MinAge),
		CheckName:      check.Name != "",
		CheckResidency: check.Residency != "",
	})
	if err != nil {
		return mpc.Result{}, err
	}

	for accepted := false; !accepted; {
		env, err := sub.Next(ctx)
		if err != nil {
			return mpc.Result{}, err
		}

		if derr := declined(env.Payload, types.MessageMpcRequest); derr != nil {
			return mpc.Result{}, derr
		}

		kind := gjson.GetBytes(env.Payload, "type").String()
		accepted = kind == types.MessageMpcAccepted

		if !accepted {
			v.logger.Debug("ignoring control message", zap.String("type", kind))
		}
	}

	opts := append([]mpc.Option{mpc.WithLogger(v.logger)}, v.mpcOpts...)

	return mpc.NewSession(v.engine, opts...).Run(ctx, mpc.RoleRequirement, check.inputs(), c)
}
