package mpc

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutputAcceptsEngineNumberTypes(t *testing.T) {
	res, err := parseOutput(map[string]any{
		OutputAgeValid:       json.Number("1"),
		OutputResidencyValid: big.NewInt(0),
		OutputNameValid:      float64(1),
	})
	require.NoError(t, err)
	assert.Equal(t, Result{AgeValid: true, NameValid: true}, res)

	res, err = parseOutput(map[string]any{
		OutputAgeValid:       true,
		OutputResidencyValid: uint8(1),
		OutputNameValid:      int64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, Result{AgeValid: true, ResidencyValid: true}, res)
	assert.False(t, res.All())
}

func TestParseOutputRejectsOutOfRangeFlags(t *testing.T) {
	for _, v := range []any{2, -1, 0.5, json.Number("x"), big.NewInt(7), uint64(9), nil, []int{1}} {
		_, err := parseOutput(map[string]any{
			OutputAgeValid:       v,
			OutputResidencyValid: 0,
			OutputNameValid:      0,
		})

		var shape *OutputShapeError
		assert.ErrorAs(t, err, &shape, "value %v", v)
	}
}

func TestInputsForRoleAreDisjoint(t *testing.T) {
	in := Inputs{MinAge: 21, RequiredResidency: 3, RequiredNameHash: 4, Age: 30, Residency: 3, NameHash: 4}

	req, err := in.For(RoleRequirement)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{InputMinAge: 21, InputRequiredResidency: 3, InputRequiredNameHash: 4}, req)

	subj, err := in.For(RoleSubject)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{InputAge: 30, InputResidency: 3, InputNameHash: 4}, subj)

	assert.Equal(t, RoleSubject, RoleRequirement.Peer())
	assert.Equal(t, RoleRequirement, RoleSubject.Peer())
}
