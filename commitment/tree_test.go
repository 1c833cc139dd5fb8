package commitment

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEntries() Entries {
	return Entries{
		"age":       Int64(25),
		"residency": NewString("USA"),
		"name":      NewString("Alice"),
	}
}

func TestKnownAnswerHashes(t *testing.T) {
	assert.Equal(t, "f5bd50e2b858a1004e27bfa4c94430b28a4fac1a02a70c5b60e2a1934b996e50", NameHash("age").String())
	assert.Equal(t, "ea370324c41c85cc6121029ef216872131fa7301bb3a0675a3bebbc96e3ac423", ValueHash(Int64(25)).String())
	assert.Equal(t, "773b24fe2be077aa1ae76bf7fac6e642d32cbd3d578547e4a320c96ff09f899b", ValueHash(NewString("USA")).String())

	root, err := ComputeRoot(identityEntries())
	require.NoError(t, err)
	assert.Equal(t, "40c720880b0af73bcab9de64061b1b433e7a8b1bdde5040bcc48950686987485", root.String())
}

func TestComputeRootIsDeterministic(t *testing.T) {
	a := Entries{}
	a["name"] = NewString("Alice")
	a["age"] = Int64(25)
	a["residency"] = NewString("USA")

	b := Entries{}
	b["residency"] = NewString("USA")
	b["age"] = Int64(25)
	b["name"] = NewString("Alice")

	ra, err := ComputeRoot(a)
	require.NoError(t, err)

	rb, err := ComputeRoot(b)
	require.NoError(t, err)

	assert.Equal(t, ra, rb)
}

func TestComputeRootIsSensitiveToEveryEntry(t *testing.T) {
	base, err := ComputeRoot(identityEntries())
	require.NoError(t, err)

	mutations := map[string]func(Entries){
		"value change":  func(e Entries) { e["age"] = Int64(26) },
		"type change":   func(e Entries) { e["age"] = NewString("25") },
		"rename":        func(e Entries) { v := e["age"]; delete(e, "age"); e["Age"] = v },
		"extra entry":   func(e Entries) { e["timestamp"] = Int64(1) },
		"removed entry": func(e Entries) { delete(e, "name") },
		"sign flip":     func(e Entries) { e["age"] = Int64(-25) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := identityEntries()
			mutate(e)

			root, err := ComputeRoot(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, root)
		})
	}
}

func TestComputeRootRejectsInvalidEntries(t *testing.T) {
	_, err := ComputeRoot(Entries{})
	assert.ErrorIs(t, err, ErrNoEntries)

	_, err = ComputeRoot(Entries{"": Int64(1)})
	assert.Error(t, err)

	_, err = ComputeRoot(Entries{"x": {}})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestEveryEntryProofVerifiesForAllTreeSizes(t *testing.T) {
	for size := 1; size <= 9; size++ {
		entries := Entries{}
		for i := 0; i < size; i++ {
			entries[fmt.Sprintf("attr%02d", i)] = Int64(int64(i * 7))
		}

		root, err := ComputeRoot(entries)
		require.NoError(t, err)

		for name, v := range entries {
			p, err := Prove(entries, name)
			require.NoError(t, err)

			assert.True(t, VerifyInclusion(p), "size %d entry %s", size, name)
			assert.Equal(t, root, p.Root)
			assert.Equal(t, NameHash(name), p.Leaf)
			assert.Equal(t, ValueHash(v), p.Siblings[0])
		}
	}
}

func TestProveUnknownEntry(t *testing.T) {
	_, err := Prove(identityEntries(), "photo")
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestProveAllSkipsUnknownNames(t *testing.T) {
	proofs, err := ProveAll(identityEntries(), []string{"age", "photo"})
	require.NoError(t, err)
	assert.Len(t, proofs, 1)
	assert.Contains(t, proofs, "age")
}

func TestVerifyInclusionRejectsTampering(t *testing.T) {
	p, err := Prove(identityEntries(), "age")
	require.NoError(t, err)
	require.True(t, VerifyInclusion(p))

	for i := range p.Siblings {
		for _, pos := range []int{0, HashSize - 1} {
			tampered := Proof{Root: p.Root, Leaf: p.Leaf, Siblings: append([]Hash(nil), p.Siblings...)}
			tampered.Siblings[i][pos] ^= 0x01
			assert.False(t, VerifyInclusion(tampered), "sibling %d byte %d", i, pos)
		}
	}

	leaf := p
	leaf.Leaf = NameHash("residency")
	assert.False(t, VerifyInclusion(leaf))

	truncated := p
	truncated.Siblings = p.Siblings[:len(p.Siblings)-1]
	assert.False(t, VerifyInclusion(truncated))

	assert.False(t, VerifyInclusion(Proof{Root: p.Root, Leaf: p.Leaf}))
	assert.False(t, VerifyInclusion(Proof{}))
}

func TestProofJSONShape(t *testing.T) {
	p, err := Prove(identityEntries(), "name")
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Len(t, generic["root"], 64)
	assert.Len(t, generic["leaf"], 64)

	var back Proof
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, VerifyInclusion(back))

	var short Proof
	assert.Error(t, json.Unmarshal([]byte(`{"root":"00","leaf":"00","siblings":[]}`), &short))
}

func TestValueJSON(t *testing.T) {
	huge, _ := new(big.Int).SetString("-98765432109876543210", 10)

	for _, v := range []Value{NewInt(huge), Int64(0), NewString(""), NewString("Zoë")} {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, v.Equal(back), "value %s", v)
		assert.Equal(t, ValueHash(v), ValueHash(back))
	}

	data, err := json.Marshal(Int64(25))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"int","value":{"__bigint":"25"}}`, string(data))

	var v Value
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"type":"float","value":1.5}`), &v), ErrInvalidValue)
	assert.Error(t, json.Unmarshal([]byte(`{"type":"int","value":25}`), &v))

	_, err = json.Marshal(Value{})
	assert.Error(t, err)
}

func TestValueCompare(t *testing.T) {
	c, ok := Int64(25).Compare(Int64(18))
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Int64(25).Compare(NewString("25"))
	assert.False(t, ok)

	assert.False(t, Int64(1).Equal(NewString("1")))
}
