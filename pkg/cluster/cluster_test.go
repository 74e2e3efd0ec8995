package cluster

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/soundprediction/ipifhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sets(in ...[]string) []types.URISet {
	out := make([]types.URISet, len(in))
	for i, s := range in {
		out[i] = types.NewURISet(s...)
	}
	return out
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestClusterWorkedExampleAllPermutations(t *testing.T) {
	input := [][]string{
		{"http://one.com"},
		{"http://one.com", "four"},
		{"http://two.com", "three"},
		{"three", "five", "six"},
	}
	want := [][]string{
		{"five", "http://two.com", "six", "three"},
		{"four", "http://one.com"},
	}

	perms := permutations(len(input))
	require.Len(t, perms, 24)
	for _, p := range perms {
		ordered := make([][]string, len(p))
		for i, idx := range p {
			ordered[i] = input[idx]
		}
		got := Canonical(Cluster(sets(ordered...)))
		assert.Equal(t, want, got, "permutation %v", p)
	}
}

func TestClusterEdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Cluster(nil))
		assert.Empty(t, Group(nil))
	})

	t.Run("single set unchanged", func(t *testing.T) {
		got := Cluster(sets([]string{"a", "b"}))
		assert.Equal(t, [][]string{{"a", "b"}}, Canonical(got))
	})

	t.Run("disjoint sets unchanged", func(t *testing.T) {
		got := Cluster(sets([]string{"c"}, []string{"a"}, []string{"b", "d"}))
		assert.Equal(t, [][]string{{"a"}, {"b", "d"}, {"c"}}, Canonical(got))
	})

	t.Run("empty sets stay separate", func(t *testing.T) {
		got := Group(sets(nil, []string{"a"}, nil))
		assert.Equal(t, [][]int{{0}, {1}, {2}}, got)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		in := sets([]string{"a"}, []string{"a", "b"})
		Cluster(in)
		assert.Len(t, in[0], 1)
	})
}

func TestGroupChains(t *testing.T) {
	// 0-1 via x, 1-2 via y, 3 alone, 4-2 via z
	in := sets(
		[]string{"x"},
		[]string{"x", "y"},
		[]string{"y", "z"},
		[]string{"q"},
		[]string{"z"},
	)
	assert.Equal(t, [][]int{{0, 1, 2, 4}, {3}}, Group(in))
}

// reference is a union-find over input indices.
func reference(in []types.URISet) map[int]int {
	parent := make([]int, len(in))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}
	for i := range in {
		for j := i + 1; j < len(in); j++ {
			if in[i].Intersects(in[j]) {
				parent[find(i)] = find(j)
			}
		}
	}
	roots := make(map[int]int, len(in))
	for i := range in {
		roots[i] = find(i)
	}
	return roots
}

func TestGroupMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(12)
		in := make([]types.URISet, n)
		for i := range in {
			s := types.NewURISet()
			for k := rng.Intn(3); k >= 0; k-- {
				s.Add(fmt.Sprintf("u%d", rng.Intn(15)))
			}
			in[i] = s
		}

		ref := reference(in)
		groups := Group(in)

		seen := 0
		for _, g := range groups {
			for _, idx := range g {
				assert.Equal(t, ref[g[0]], ref[idx], "trial %d: %v split from %v", trial, idx, g[0])
			}
			seen += len(g)
		}
		assert.Equal(t, n, seen)

		for a := 0; a < len(groups); a++ {
			for b := a + 1; b < len(groups); b++ {
				assert.NotEqual(t, ref[groups[a][0]], ref[groups[b][0]], "trial %d: groups %d and %d connected", trial, a, b)
			}
		}
	}
}
