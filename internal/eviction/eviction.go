// Package eviction decides which cached entries to drop when the host store is full.
package eviction

import "sort"

// Candidate describes one stored entry that may be evicted.
type Candidate struct {
	Key        string
	Size       int
	Expiration int64
}

// Plan returns the candidates to evict, in eviction order, to free need bytes.
// The soonest-expiring entry goes first. Entries without an expiration should
// carry the maximum representable expiration so that they go last.
// Plan stops early once need is covered and may return fewer bytes than need
// when candidates run out.
func Plan(candidates []Candidate, need int) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Expiration > sorted[j].Expiration
	})

	var out []Candidate
	for remaining := need; len(sorted) > 0 && remaining > 0; {
		last := sorted[len(sorted)-1]
		sorted = sorted[:len(sorted)-1]
		out = append(out, last)
		remaining -= last.Size
	}
	return out
}
