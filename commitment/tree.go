package commitment

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

var (
	ErrNoEntries    = errors.New("commitment requires at least one entry")
	ErrUnknownEntry = errors.New("entry not present")
)

// Entries maps attribute names to values.
type Entries map[string]Value

// Clone returns a shallow copy; Value is immutable so sharing is safe.
func (e Entries) Clone() Entries {
	out := make(Entries, len(e))
	for k, v := range e {
		out[k] = v
	}

	return out
}

// Names returns the attribute names in the order they are committed.
func (e Entries) Names() []string {
	names := lo.Keys(e)
	slices.Sort(names)

	return names
}

func (e Entries) validate() error {
	if len(e) == 0 {
		return ErrNoEntries
	}

	for name, v := range e {
		if name == "" {
			return errors.New("entry name must not be empty")
		}

		if !v.Valid() {
			return fmt.Errorf("entry %q: %w", name, ErrInvalidValue)
		}
	}

	return nil
}

// Proof shows that the entry named by Leaf belongs to Root. Siblings[0] is the
// value hash of the entry, the rest is the path up the tree.
type Proof struct {
	Root     Hash   `json:"root"`
	Leaf     Hash   `json:"leaf"`
	Siblings []Hash `json:"siblings"`
}

// tree holds every level; levels[0] are the entry leaves sorted by name.
type tree struct {
	names  []string
	levels [][]Hash
}

func build(entries Entries) (*tree, error) {
	if err := entries.validate(); err != nil {
		return nil, err
	}

	names := entries.Names()
	level := make([]Hash, len(names))

	for i, name := range names {
		level[i] = Node(NameHash(name), ValueHash(entries[name]))
	}

	t := &tree{names: names, levels: [][]Hash{level}}

	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}

			next = append(next, Node(level[i], level[i+1]))
		}

		t.levels = append(t.levels, next)
		level = next
	}

	return t, nil
}

func (t *tree) root() Hash {
	return t.levels[len(t.levels)-1][0]
}

// ComputeRoot derives the commitment root of entries. Map iteration order has
// no influence on the result.
func ComputeRoot(entries Entries) (Hash, error) {
	t, err := build(entries)
	if err != nil {
		return Hash{}, err
	}

	return t.root(), nil
}

// Prove builds the inclusion proof for one entry.
func Prove(entries Entries, name string) (Proof, error) {
	t, err := build(entries)
	if err != nil {
		return Proof{}, err
	}

	return t.prove(entries, name)
}

// ProveAll builds proofs for several entries against a single tree; names
// missing from entries are skipped.
func ProveAll(entries Entries, names []string) (map[string]Proof, error) {
	t, err := build(entries)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Proof, len(names))

	for _, name := range names {
		if _, ok := entries[name]; !ok {
			continue
		}

		p, err := t.prove(entries, name)
		if err != nil {
			return nil, err
		}

		out[name] = p
	}

	return out, nil
}

func (t *tree) prove(entries Entries, name string) (Proof, error) {
	idx, found := slices.BinarySearch(t.names, name)
	if !found {
		return Proof{}, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}

	siblings := []Hash{ValueHash(entries[name])}

	for _, level := range t.levels[:len(t.levels)-1] {
		if sib := idx ^ 1; sib < len(level) {
			siblings = append(siblings, level[sib])
		}

		idx /= 2
	}

	return Proof{Root: t.root(), Leaf: NameHash(name), Siblings: siblings}, nil
}

// VerifyInclusion recomputes the root from Leaf and Siblings in order. It is a
// purely structural check and knows nothing about which attribute is proven.
func VerifyInclusion(p Proof) bool {
	if len(p.Siblings) == 0 {
		return false
	}

	cur := p.Leaf
	for _, s := range p.Siblings {
		cur = Node(cur, s)
	}

	return cur == p.Root
}
