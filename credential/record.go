package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/berkmancenter/podpair/commitment"
	"github.com/berkmancenter/podpair/types"
)

// TimestampEntry is added at issuance so two records minted from the same data
// have different roots.
const TimestampEntry = "timestamp"

// Identity attribute names.
const (
	FieldAge       = "age"
	FieldResidency = "residency"
	FieldName      = "name"
	FieldPhoto     = "photo"
)

// Record is an issuer-signed set of attributes. The signature covers the
// commitment root rather than the entries, so any subset stays verifiable.
type Record struct {
	entries   commitment.Entries
	root      commitment.Hash
	signature []byte
	signer    ed25519.PublicKey
}

type issueOptions struct {
	now func() time.Time
}

type IssueOpt func(*issueOptions)

func WithClock(now func() time.Time) IssueOpt {
	return func(o *issueOptions) { o.now = now }
}

func GenerateIssuerKey() (ed25519.PrivateKey, error) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate issuer key: %w", err)
	}

	return sk, nil
}

// Issue commits to entries and signs the root.
func Issue(sk ed25519.PrivateKey, entries commitment.Entries, opts ...IssueOpt) (*Record, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid issuer private key")
	}

	o := &issueOptions{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	e := entries.Clone()
	if _, ok := e[TimestampEntry]; !ok {
		e[TimestampEntry] = commitment.Int64(o.now().UnixMilli())
	}

	root, err := commitment.ComputeRoot(e)
	if err != nil {
		return nil, fmt.Errorf("commit entries: %w", err)
	}

	return &Record{
		entries:   e,
		root:      root,
		signature: SignRoot(sk, root),
		signer:    sk.Public().(ed25519.PublicKey),
	}, nil
}

// IdentityEntries maps the issuer form onto record entries.
func IdentityEntries(req types.IssueRequest) commitment.Entries {
	e := commitment.Entries{
		FieldAge:       commitment.Int64(req.Age),
		FieldResidency: commitment.NewString(req.Residency),
		FieldName:      commitment.NewString(req.Name),
	}

	if req.Photo != "" {
		e[FieldPhoto] = commitment.NewString(req.Photo)
	}

	return e
}

func (r *Record) Root() commitment.Hash { return r.root }

func (r *Record) Entries() commitment.Entries { return r.entries.Clone() }

func (r *Record) Value(name string) (commitment.Value, bool) {
	v, ok := r.entries[name]
	return v, ok
}

func (r *Record) Signature() string { return EncodeSignature(r.signature) }

func (r *Record) SignerPublicKey() string { return EncodePublicKey(r.signer) }

type recordJSON struct {
	Entries         commitment.Entries `json:"entries"`
	Signature       string             `json:"signature"`
	SignerPublicKey string             `json:"signerPublicKey"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Entries:         r.entries,
		Signature:       r.Signature(),
		SignerPublicKey: r.SignerPublicKey(),
	})
}

// ParseRecord decodes a serialized record and checks its signature.
func ParseRecord(data []byte) (*Record, error) {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: record: %v", ErrParse, err)
	}

	root, err := commitment.ComputeRoot(w.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: record: %v", ErrParse, err)
	}

	sig, err := DecodeSignature(w.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	pk, err := DecodePublicKey(w.SignerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if !VerifyRoot(pk, root, sig) {
		return nil, ErrSignatureInvalid
	}

	return &Record{entries: w.Entries, root: root, signature: sig, signer: pk}, nil
}

// MarshalBundle produces the file/QR form {pod, issuerPk}.
func MarshalBundle(r *Record) ([]byte, error) {
	pod, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	return json.Marshal(types.Bundle{POD: pod, IssuerPK: r.SignerPublicKey()})
}

// ParseBundle decodes a bundle and requires its issuerPk to name the record signer.
func ParseBundle(data []byte) (*Record, error) {
	if err := validateBundle(data); err != nil {
		return nil, err
	}

	var b types.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: bundle: %v", ErrParse, err)
	}

	r, err := ParseRecord(b.POD)
	if err != nil {
		return nil, err
	}

	if err := sameKey(b.IssuerPK, r.signer); err != nil {
		return nil, err
	}

	return r, nil
}

func sameKey(encoded string, pk ed25519.PublicKey) error {
	other, err := DecodePublicKey(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}

	if !other.Equal(pk) {
		return ErrIssuerMismatch
	}

	return nil
}
