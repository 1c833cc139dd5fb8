package commitment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/berkmancenter/podpair/types"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindString
)

const (
	typeInt    = "int"
	typeString = "string"
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return typeInt
	case KindString:
		return typeString
	default:
		return "invalid"
	}
}

var ErrInvalidValue = errors.New("invalid attribute value")

// Value is an attribute value: either an arbitrary-precision integer or a
// UTF-8 string. The zero Value is invalid.
type Value struct {
	kind Kind
	i    *big.Int
	s    string
}

func NewInt(v *big.Int) Value {
	if v == nil {
		return Value{}
	}

	return Value{kind: KindInt, i: new(big.Int).Set(v)}
}

func Int64(v int64) Value {
	return Value{kind: KindInt, i: big.NewInt(v)}
}

func NewString(s string) Value {
	return Value{kind: KindString, s: s}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Valid() bool { return v.kind == KindInt || v.kind == KindString }

// Int returns a copy of the integer payload.
func (v Value) Int() (*big.Int, bool) {
	if v.kind != KindInt {
		return nil, false
	}

	return new(big.Int).Set(v.i), true
}

func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}

	return v.s, true
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindInt:
		return v.i.Cmp(o.i) == 0
	case KindString:
		return v.s == o.s
	default:
		return true
	}
}

// Compare orders two integer values. ok is false when either side is not an integer.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.kind != KindInt || o.kind != KindInt {
		return 0, false
	}

	return v.i.Cmp(o.i), true
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return v.i.String()
	case KindString:
		return v.s
	default:
		return "<invalid>"
	}
}

type valueJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)

	switch v.kind {
	case KindInt:
		raw, err = json.Marshal(types.BigInt{Int: v.i})
	case KindString:
		raw, err = json.Marshal(v.s)
	default:
		return nil, ErrInvalidValue
	}

	if err != nil {
		return nil, err
	}

	return json.Marshal(valueJSON{Type: v.kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	switch w.Type {
	case typeInt:
		var b types.BigInt
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("decode int value: %w", err)
		}

		*v = NewInt(b.Int)
	case typeString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("decode string value: %w", err)
		}

		*v = NewString(s)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidValue, w.Type)
	}

	return nil
}
