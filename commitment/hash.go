package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const HashSize = sha256.Size

// Domain separation prefixes, one per hash role.
const (
	prefixName  byte = 0x01
	prefixValue byte = 0x02
	prefixNode  byte = 0x03
)

type Hash [HashSize]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(HashSize) {
		return fmt.Errorf("hash must be %d hex characters, got %d", hex.EncodedLen(HashSize), len(text))
	}

	if _, err := hex.Decode(h[:], text); err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}

	return nil
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))

	return h, err
}

func sum(prefix byte, parts ...[]byte) Hash {
	hasher := sha256.New()
	hasher.Write([]byte{prefix})

	for _, p := range parts {
		hasher.Write(p)
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))

	return h
}

func NameHash(name string) Hash {
	return sum(prefixName, []byte(name))
}

// ValueHash hashes the type tag together with the canonical payload bytes, so
// the integer 1 and the string "1" never collide.
func ValueHash(v Value) Hash {
	switch v.kind {
	case KindInt:
		sign := byte(0x00)
		if v.i.Sign() < 0 {
			sign = 0x01
		}

		return sum(prefixValue, []byte{'i', sign}, v.i.Bytes())
	case KindString:
		return sum(prefixValue, []byte{'s'}, []byte(v.s))
	default:
		return sum(prefixValue, []byte{0x00})
	}
}

// Node combines two hashes. The pair is ordered before hashing so proofs need no
// left/right index.
func Node(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}

	return sum(prefixNode, a[:], b[:])
}
