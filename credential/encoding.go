package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/berkmancenter/podpair/commitment"
)

// rootDomain prefixes the root bytes in every signed message.
const rootDomain = "podpair/root/v1"

// Keys and signatures travel as raw Ed25519 bytes in unpadded base64url.
// There is exactly one encoding; nothing else is accepted.
var keyEncoding = base64.RawURLEncoding

func EncodePublicKey(pk ed25519.PublicKey) string {
	return keyEncoding.EncodeToString(pk)
}

func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := keyEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

func EncodeSignature(sig []byte) string {
	return keyEncoding.EncodeToString(sig)
}

func DecodeSignature(s string) ([]byte, error) {
	raw, err := keyEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(raw))
	}

	return raw, nil
}

func EncodePrivateKey(sk ed25519.PrivateKey) string {
	return keyEncoding.EncodeToString(sk.Seed())
}

// DecodePrivateKey accepts the 32 byte seed form produced by EncodePrivateKey.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := keyEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}

	return ed25519.NewKeyFromSeed(raw), nil
}

func signedMessage(root commitment.Hash) []byte {
	msg := make([]byte, 0, len(rootDomain)+commitment.HashSize)
	msg = append(msg, rootDomain...)

	return append(msg, root[:]...)
}

func SignRoot(sk ed25519.PrivateKey, root commitment.Hash) []byte {
	return ed25519.Sign(sk, signedMessage(root))
}

func VerifyRoot(pk ed25519.PublicKey, root commitment.Hash, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(pk, signedMessage(root), sig)
}
