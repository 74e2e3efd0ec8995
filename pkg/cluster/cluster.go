// Package cluster partitions identifier sets into connected components.
//
// Two input sets belong to the same component when a chain of pairwise
// intersecting sets links them. The functions here are pure and their output
// is canonically ordered, so results can be compared directly regardless of
// input order.
package cluster

import (
	"sort"

	"github.com/soundprediction/ipifhub/pkg/types"
)

type group struct {
	uris    types.URISet
	members []int
}

// Group returns the partition of sets as groups of input indices. Each group
// is sorted ascending and groups are ordered by their first index.
func Group(sets []types.URISet) [][]int {
	work := make([]*group, len(sets))
	for i, s := range sets {
		work[i] = &group{uris: s.Clone(), members: []int{i}}
	}

	for changed := true; changed; {
		changed = false
		for _, v := range values(work) {
			var hit, keep []*group
			for _, g := range work {
				if g.uris.Has(v) {
					hit = append(hit, g)
				} else {
					keep = append(keep, g)
				}
			}
			if len(hit) < 2 {
				continue
			}
			merged := &group{uris: types.NewURISet()}
			for _, g := range hit {
				merged.uris.Union(g.uris)
				merged.members = append(merged.members, g.members...)
			}
			work = append(keep, merged)
			changed = true
		}
	}

	out := make([][]int, len(work))
	for i, g := range work {
		sort.Ints(g.members)
		out[i] = g.members
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Cluster returns one set per connected component, holding the union of the
// identifiers of every input set in that component. Output is ordered by each
// group's smallest identifier; groups built from empty inputs come first.
func Cluster(sets []types.URISet) []types.URISet {
	type keyed struct {
		key  string
		uris types.URISet
	}
	groups := Group(sets)
	ks := make([]keyed, len(groups))
	for i, g := range groups {
		u := types.NewURISet()
		for _, idx := range g {
			u.Union(sets[idx])
		}
		ks[i] = keyed{key: minElement(u), uris: u}
	}
	sort.SliceStable(ks, func(i, j int) bool { return ks[i].key < ks[j].key })

	out := make([]types.URISet, len(ks))
	for i, k := range ks {
		out[i] = k.uris
	}
	return out
}

// Canonical renders sets as sorted string slices for comparison and logging.
func Canonical(sets []types.URISet) [][]string {
	out := make([][]string, len(sets))
	for i, s := range sets {
		out[i] = s.Sorted()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return first(out[i]) < first(out[j])
	})
	return out
}

// values returns every identifier in the work list in lexical order.
func values(work []*group) []string {
	all := types.NewURISet()
	for _, g := range work {
		all.Union(g.uris)
	}
	return all.Sorted()
}

func minElement(s types.URISet) string {
	m, ok := "", false
	for u := range s {
		if !ok || u < m {
			m, ok = u, true
		}
	}
	return m
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
