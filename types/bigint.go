package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// BigIntTag is the object key used to carry arbitrary-precision integers through JSON.
const BigIntTag = "__bigint"

var errNotTagged = errors.New("expected tagged bigint object")

// BigInt is an arbitrary-precision integer that always crosses JSON as
// {"__bigint":"<decimal>"} so no digits are lost to float64 decoding.
type BigInt struct {
	Int *big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{Int: big.NewInt(v)}
}

func (b BigInt) Value() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(b.Int)
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{BigIntTag: b.Value().String()})
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode bigint: %w", err)
	}

	raw, ok := tagged[BigIntTag]
	if !ok || len(tagged) != 1 {
		return errNotTagged
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode bigint digits: %w", err)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid bigint digits %q", s)
	}

	b.Int = v

	return nil
}

// ReplaceBigInts returns a copy of v in which every *big.Int (and BigInt) has
// been swapped for its tagged object form. Maps and slices are walked.
func ReplaceBigInts(v any) any {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil
		}

		return map[string]any{BigIntTag: t.String()}
	case BigInt:
		return map[string]any{BigIntTag: t.Value().String()}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ReplaceBigInts(item)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ReplaceBigInts(item)
		}

		return out
	default:
		return v
	}
}

// ReviveBigInts is the inverse of ReplaceBigInts on generically decoded JSON.
func ReviveBigInts(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t[BigIntTag].(string); ok {
				if n, ok := new(big.Int).SetString(s, 10); ok {
					return n
				}
			}
		}

		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ReviveBigInts(item)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ReviveBigInts(item)
		}

		return out
	default:
		return v
	}
}

// DecodeGeneric decodes a JSON document into maps/slices, keeping plain
// numbers as json.Number and reviving tagged integers into *big.Int.
func DecodeGeneric(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return ReviveBigInts(v), nil
}

// EncodeGeneric is the counterpart of DecodeGeneric.
func EncodeGeneric(v any) ([]byte, error) {
	return json.Marshal(ReplaceBigInts(v))
}
