package credential

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/berkmancenter/podpair/commitment"
)

// Disclosure is one revealed attribute with the proof tying it to the record root.
type Disclosure struct {
	Value commitment.Value `json:"value"`
	Proof commitment.Proof `json:"proof"`
}

// Presentation is built fresh for each disclosure event.
type Presentation struct {
	Revealed        map[string]Disclosure `json:"revealed"`
	Signature       string                `json:"signature"`
	SignerPublicKey string                `json:"signerPublicKey"`
}

// BuildPresentation reveals the named attributes of r. Names the record does
// not carry are skipped; the issuer signature is passed through untouched.
func BuildPresentation(r *Record, names []string) (*Presentation, error) {
	names = lo.Uniq(lo.Filter(names, func(name string, _ int) bool {
		_, ok := r.entries[name]
		return ok
	}))

	proofs, err := commitment.ProveAll(r.entries, names)
	if err != nil {
		return nil, fmt.Errorf("prove entries: %w", err)
	}

	revealed := make(map[string]Disclosure, len(proofs))
	for name, proof := range proofs {
		revealed[name] = Disclosure{Value: r.entries[name], Proof: proof}
	}

	return &Presentation{
		Revealed:        revealed,
		Signature:       r.Signature(),
		SignerPublicKey: r.SignerPublicKey(),
	}, nil
}

// ParsePresentation validates the payload shape and decodes it.
func ParsePresentation(data []byte) (*Presentation, error) {
	if err := validatePresentation(data); err != nil {
		return nil, err
	}

	var p Presentation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: presentation: %v", ErrParse, err)
	}

	return &p, nil
}
