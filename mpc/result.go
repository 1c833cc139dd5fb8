package mpc

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Output field names produced by the identity check circuit.
const (
	OutputAgeValid       = "ageValid"
	OutputResidencyValid = "residencyValid"
	OutputNameValid      = "nameValid"
)

// Result is the only thing either party learns from a run.
type Result struct {
	AgeValid       bool `json:"ageValid"`
	ResidencyValid bool `json:"residencyValid"`
	NameValid      bool `json:"nameValid"`
}

// All reports whether every check passed.
func (r Result) All() bool { return r.AgeValid && r.ResidencyValid && r.NameValid }

func parseOutput(out any) (Result, error) {
	m, ok := out.(map[string]any)
	if !ok {
		return Result{}, &OutputShapeError{Output: out, Reason: "not a record"}
	}

	var res Result

	for name, dst := range map[string]*bool{
		OutputAgeValid:       &res.AgeValid,
		OutputResidencyValid: &res.ResidencyValid,
		OutputNameValid:      &res.NameValid,
	} {
		v, ok := m[name]
		if !ok {
			return Result{}, &OutputShapeError{Output: out, Reason: "missing " + name}
		}

		flag, err := toFlag(v)
		if err != nil {
			return Result{}, &OutputShapeError{Output: out, Reason: fmt.Sprintf("%s: %v", name, err)}
		}

		*dst = flag
	}

	return res, nil
}

// toFlag accepts 0 or 1 in whatever numeric type the engine produced.
func toFlag(v any) (bool, error) {
	var n int64

	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > 1 {
			return false, fmt.Errorf("flag out of range: %d", x)
		}

		n = int64(x)
	case float64:
		if x != 0 && x != 1 {
			return false, fmt.Errorf("flag out of range: %v", x)
		}

		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return false, err
		}

		n = i
	case *big.Int:
		if x == nil || !x.IsInt64() {
			return false, fmt.Errorf("flag out of range")
		}

		n = x.Int64()
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}

	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("flag out of range: %d", n)
	}
}
