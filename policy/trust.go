package policy

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/berkmancenter/podpair/credential"
)

var ErrUntrustedIssuer = errors.New("issuer key not in trust list")

// TrustMode decides what an unknown issuer means for an otherwise valid presentation.
type TrustMode string

const (
	TrustWarn   TrustMode = "warn"
	TrustStrict TrustMode = "strict"
)

type trustFile struct {
	Mode    TrustMode `yaml:"mode"`
	Issuers []struct {
		Name      string `yaml:"name"`
		PublicKey string `yaml:"publicKey"`
	} `yaml:"issuers"`
}

// TrustList is the verifier's set of accepted issuer keys.
type TrustList struct {
	mu    sync.RWMutex
	mode  TrustMode
	names map[string]string // canonical public key -> label
}

func NewTrustList(mode TrustMode) *TrustList {
	if mode == "" {
		mode = TrustWarn
	}

	return &TrustList{mode: mode, names: map[string]string{}}
}

// LoadTrustList reads a YAML trust list file.
func LoadTrustList(path string) (*TrustList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust list: %w", err)
	}

	return ParseTrustList(data)
}

func ParseTrustList(data []byte) (*TrustList, error) {
	var f trustFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse trust list: %w", err)
	}

	switch f.Mode {
	case "", TrustWarn, TrustStrict:
	default:
		return nil, fmt.Errorf("unknown trust mode %q", f.Mode)
	}

	tl := NewTrustList(f.Mode)

	for _, issuer := range f.Issuers {
		if err := tl.Add(issuer.Name, issuer.PublicKey); err != nil {
			return nil, err
		}
	}

	return tl, nil
}

// Add trusts key; keys must be in the canonical encoding.
func (t *TrustList) Add(name, key string) error {
	if _, err := credential.DecodePublicKey(key); err != nil {
		return fmt.Errorf("trusted issuer %q: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.names[key] = name

	return nil
}

func (t *TrustList) Mode() TrustMode { return t.mode }

func (t *TrustList) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.names)
}

func (t *TrustList) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return lo.Keys(t.names)
}

// Lookup returns the label of a trusted key.
func (t *TrustList) Lookup(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	name, ok := t.names[key]

	return name, ok
}

// Evaluate classifies a verified signer. An empty list trusts nobody explicitly
// and therefore never fails, matching warn semantics. In warn mode an unknown
// key is reported but not fatal.
func (t *TrustList) Evaluate(signerKey string) (trusted bool, err error) {
	if _, ok := t.Lookup(signerKey); ok {
		return true, nil
	}

	if t.mode == TrustStrict && t.Len() > 0 {
		return false, ErrUntrustedIssuer
	}

	return false, nil
}
