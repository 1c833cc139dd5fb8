package mpc

import (
	"fmt"
	"unicode/utf16"
)

// Role is one of the two fixed identities of the protocol.
type Role string

const (
	// RoleRequirement supplies thresholds and targets (the verifier).
	RoleRequirement Role = "alice"
	// RoleSubject supplies the attribute values being checked (the holder).
	RoleSubject Role = "bob"
)

func (r Role) Valid() bool { return r == RoleRequirement || r == RoleSubject }

// Peer returns the counterpart role.
func (r Role) Peer() Role {
	if r == RoleRequirement {
		return RoleSubject
	}

	return RoleRequirement
}

// Input names understood by the identity check circuit.
const (
	InputMinAge            = "minAge"
	InputRequiredResidency = "requiredResidency"
	InputRequiredNameHash  = "requiredNameHash"
	InputAge               = "age"
	InputResidency         = "residency"
	InputNameHash          = "nameHash"
)

// Inputs holds the private values of either side. Only the fields of the
// caller's role are used; the others may be left zero.
type Inputs struct {
	MinAge            int64
	RequiredResidency int64
	RequiredNameHash  int64

	Age       int64
	Residency int64
	NameHash  int64
}

// For returns the engine input for role. Fields belonging to the other role
// are never included.
func (in Inputs) For(role Role) (map[string]int64, error) {
	switch role {
	case RoleRequirement:
		return map[string]int64{
			InputMinAge:            in.MinAge,
			InputRequiredResidency: in.RequiredResidency,
			InputRequiredNameHash:  in.RequiredNameHash,
		}, nil
	case RoleSubject:
		return map[string]int64{
			InputAge:       in.Age,
			InputResidency: in.Residency,
			InputNameHash:  in.NameHash,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// NameHash maps a string to the 32-bit value the circuit compares. The empty
// string maps to zero so an unset requirement matches an unset subject value.
// The hash runs over UTF-16 code units, so characters outside the Basic
// Multilingual Plane contribute both surrogates and peers written against
// UTF-16 strings agree on every name.
func NameHash(s string) int64 {
	if s == "" {
		return 0
	}

	var h int32 = 5381
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*33 + int32(c)
	}

	if h < 0 {
		return -int64(h)
	}

	return int64(h)
}
