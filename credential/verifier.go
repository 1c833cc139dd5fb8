package credential

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/commitment"
)

// Result is the outcome of verifying a presentation. Revealed is only filled
// when Valid is true.
type Result struct {
	Valid    bool
	Reason   error
	Root     commitment.Hash
	Revealed map[string]commitment.Value
}

type Verifier struct {
	logger *zap.Logger
}

func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Verifier{logger: logger.Named("verifier")}
}

// Verify checks p and, when expectedIssuerKey is not empty, that it was signed
// by that key. It never panics; every failure is a false Result with a reason.
func (v *Verifier) Verify(p *Presentation, expectedIssuerKey string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = v.fail(fmt.Errorf("%w: %v", ErrParse, r))
		}
	}()

	if p == nil || len(p.Revealed) == 0 {
		return v.fail(ErrEmptyPresentation)
	}

	var (
		derived commitment.Hash
		seen    bool
	)

	// Names are visited in a fixed order so the reported reason is stable.
	names := lo.Keys(p.Revealed)
	slices.Sort(names)

	for _, name := range names {
		d := p.Revealed[name]

		if !commitment.VerifyInclusion(d.Proof) {
			return v.fail(fmt.Errorf("%w: %q", ErrProofStructure, name))
		}

		if !seen {
			derived, seen = d.Proof.Root, true
		} else if d.Proof.Root != derived {
			return v.fail(fmt.Errorf("%w: %q has root %s, expected %s", ErrRootMismatch, name, d.Proof.Root, derived))
		}

		if d.Proof.Leaf != commitment.NameHash(name) {
			return v.fail(fmt.Errorf("%w: %q", ErrLeafMismatch, name))
		}

		if !d.Value.Valid() || d.Proof.Siblings[0] != commitment.ValueHash(d.Value) {
			return v.fail(fmt.Errorf("%w: %q", ErrValueMismatch, name))
		}
	}

	pk, err := DecodePublicKey(p.SignerPublicKey)
	if err != nil {
		return v.fail(fmt.Errorf("%w: %v", ErrSignatureInvalid, err))
	}

	sig, err := DecodeSignature(p.Signature)
	if err != nil {
		return v.fail(fmt.Errorf("%w: %v", ErrSignatureInvalid, err))
	}

	if !VerifyRoot(pk, derived, sig) {
		return v.fail(ErrSignatureInvalid)
	}

	if expectedIssuerKey != "" {
		if err := sameKey(expectedIssuerKey, pk); err != nil {
			return v.fail(fmt.Errorf("%w: %v", ErrIssuerMismatch, err))
		}
	}

	revealed := make(map[string]commitment.Value, len(p.Revealed))
	for name, d := range p.Revealed {
		revealed[name] = d.Value
	}

	v.logger.Debug("presentation verified",
		zap.Stringer("root", derived), zap.Strings("revealed", names))

	return Result{Valid: true, Root: derived, Revealed: revealed}
}

// VerifyJSON parses and verifies a serialized presentation.
func (v *Verifier) VerifyJSON(data []byte, expectedIssuerKey string) Result {
	p, err := ParsePresentation(data)
	if err != nil {
		return v.fail(err)
	}

	return v.Verify(p, expectedIssuerKey)
}

func (v *Verifier) fail(reason error) Result {
	v.logger.Debug("presentation rejected", zap.Error(reason))

	return Result{Reason: reason}
}
