// Package policy holds verifier-side business rules applied after a
// presentation has been cryptographically verified: attribute requirements and
// the trusted issuer list.
package policy

import (
	"errors"
	"fmt"

	"github.com/berkmancenter/podpair/commitment"
)

type Op string

const (
	OpEqual       Op = "=="
	OpAtLeast     Op = ">="
	OpAtMost      Op = "<="
	OpNotRevealed Op = "absent"
)

var (
	ErrNotRevealed = errors.New("attribute not revealed")
	ErrUnsatisfied = errors.New("requirement not met")
	ErrNotOrdered  = errors.New("attribute is not an integer")
)

// Requirement is one verifier condition on a revealed attribute.
type Requirement struct {
	Name  string
	Op    Op
	Value commitment.Value
}

func Equal(name string, v commitment.Value) Requirement {
	return Requirement{Name: name, Op: OpEqual, Value: v}
}

func AtLeast(name string, threshold int64) Requirement {
	return Requirement{Name: name, Op: OpAtLeast, Value: commitment.Int64(threshold)}
}

func AtMost(name string, limit int64) Requirement {
	return Requirement{Name: name, Op: OpAtMost, Value: commitment.Int64(limit)}
}

// Absent requires that name was not disclosed at all.
func Absent(name string) Requirement {
	return Requirement{Name: name, Op: OpNotRevealed}
}

func (r Requirement) String() string {
	if r.Op == OpNotRevealed {
		return r.Name + " absent"
	}

	return fmt.Sprintf("%s %s %s", r.Name, r.Op, r.Value)
}

// Check evaluates r against the revealed attributes of a verified presentation.
func (r Requirement) Check(revealed map[string]commitment.Value) error {
	got, ok := revealed[r.Name]

	if r.Op == OpNotRevealed {
		if ok {
			return fmt.Errorf("%w: %s revealed", ErrUnsatisfied, r.Name)
		}

		return nil
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRevealed, r.Name)
	}

	switch r.Op {
	case OpEqual:
		if !got.Equal(r.Value) {
			return fmt.Errorf("%w: %s", ErrUnsatisfied, r)
		}
	case OpAtLeast, OpAtMost:
		cmp, ok := got.Compare(r.Value)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotOrdered, r.Name)
		}

		if (r.Op == OpAtLeast && cmp < 0) || (r.Op == OpAtMost && cmp > 0) {
			return fmt.Errorf("%w: %s (got %s)", ErrUnsatisfied, r, got)
		}
	default:
		return fmt.Errorf("unknown operator %q", r.Op)
	}

	return nil
}

// CheckAll reports the outcome of every requirement, keyed by its string form.
func CheckAll(revealed map[string]commitment.Value, reqs []Requirement) (map[string]error, bool) {
	out := make(map[string]error, len(reqs))
	allMet := true

	for _, r := range reqs {
		err := r.Check(revealed)
		out[r.String()] = err

		if err != nil {
			allMet = false
		}
	}

	return out, allMet
}
