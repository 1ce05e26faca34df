package crdt

import (
	"sort"

	"github.com/git-stunts/git-warp/internal/dot"
)

// ApplyResult classifies the outcome of applying an op to CRDT state, using
// the same vocabulary as TickReceipt.
type ApplyResult string

const (
	ResultApplied    ApplyResult = "applied"
	ResultRedundant  ApplyResult = "redundant"
	ResultSuperseded ApplyResult = "superseded"
	ResultTombstoned ApplyResult = "tombstoned"
	// ResultConflict marks a PropSet merge whose incoming EventId is exactly
	// equal to the register's current one. A well-formed writer chain can
	// never produce two ops with the same (lamport, writer, patchSha,
	// opIndex), so this result flags a construction bug upstream rather than
	// a legitimate stale write.
	ResultConflict ApplyResult = "conflict"
)

// ORSet is an observed-remove set: each element maps to a non-empty set of
// live dots, and a flat set of tombstoned dots. Dots are globally unique
// (one per add event) so tombstones need not be keyed by element.
type ORSet struct {
	live       map[string]map[dot.Dot]struct{}
	tombstones map[dot.Dot]struct{}
}

// NewORSet returns an empty OR-Set.
func NewORSet() *ORSet {
	return &ORSet{
		live:       make(map[string]map[dot.Dot]struct{}),
		tombstones: make(map[dot.Dot]struct{}),
	}
}

// Add inserts d into element's live-dot set unless d is already tombstoned,
// in which case the add has been causally superseded by an observed remove.
func (s *ORSet) Add(element string, d dot.Dot) ApplyResult {
	if _, dead := s.tombstones[d]; dead {
		return ResultTombstoned
	}
	m, ok := s.live[element]
	if !ok {
		m = make(map[dot.Dot]struct{})
		s.live[element] = m
	}
	if _, exists := m[d]; exists {
		return ResultRedundant
	}
	m[d] = struct{}{}
	return ResultApplied
}

// Remove moves any of observed currently live under element into tombstones.
// Dots not currently live are still accepted into tombstones so that a
// later-arriving concurrent add carrying one of those dots is suppressed.
func (s *ORSet) Remove(element string, observed []dot.Dot) ApplyResult {
	applied := false
	m := s.live[element]
	for _, d := range observed {
		if m != nil {
			if _, exists := m[d]; exists {
				delete(m, d)
				applied = true
			}
		}
		s.tombstones[d] = struct{}{}
	}
	if m != nil && len(m) == 0 {
		delete(s.live, element)
	}
	if applied {
		return ResultApplied
	}
	return ResultRedundant
}

// Contains reports whether element has at least one live dot.
func (s *ORSet) Contains(element string) bool {
	return len(s.live[element]) > 0
}

// LiveDots returns the current live dots for element, sorted for
// deterministic observed-dot snapshots in the builder.
func (s *ORSet) LiveDots(element string) []dot.Dot {
	m := s.live[element]
	out := make([]dot.Dot, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Elements returns all elements currently present (non-empty live set),
// sorted for deterministic iteration.
func (s *ORSet) Elements() []string {
	out := make([]string, 0, len(s.live))
	for e := range s.live {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// LiveEntries returns every element's live dots, sorted by element then dot,
// for full checkpoint encoding.
func (s *ORSet) LiveEntries() map[string][]dot.Dot {
	out := make(map[string][]dot.Dot, len(s.live))
	for el := range s.live {
		out[el] = s.LiveDots(el)
	}
	return out
}

// Tombstones returns all tombstoned dots, sorted, for checkpoint encoding.
func (s *ORSet) Tombstones() []dot.Dot {
	out := make([]dot.Dot, 0, len(s.tombstones))
	for d := range s.tombstones {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Merge unions live dots across a and b, removing any dot tombstoned by
// either side; tombstone union dominates live union. Used for the CRDT
// convergence property tests, not by the join reducer's patch-at-a-time path.
func Merge(a, b *ORSet) *ORSet {
	out := NewORSet()
	for d := range a.tombstones {
		out.tombstones[d] = struct{}{}
	}
	for d := range b.tombstones {
		out.tombstones[d] = struct{}{}
	}
	merge := func(src *ORSet) {
		for el, dots := range src.live {
			for d := range dots {
				if _, dead := out.tombstones[d]; dead {
					continue
				}
				m, ok := out.live[el]
				if !ok {
					m = make(map[dot.Dot]struct{})
					out.live[el] = m
				}
				m[d] = struct{}{}
			}
		}
	}
	merge(a)
	merge(b)
	for el, m := range out.live {
		if len(m) == 0 {
			delete(out.live, el)
		}
	}
	return out
}

// GC removes tombstoned dots dominated by frontier: no writer can still be
// holding an undelivered add carrying one of those dots, so the suppression
// record is no longer needed.
func (s *ORSet) GC(frontier dot.VersionVector) int {
	removed := 0
	for d := range s.tombstones {
		if frontier.Observes(d) {
			delete(s.tombstones, d)
			removed++
		}
	}
	return removed
}

// Clone returns a deep copy of s: mutating the returned set (or s) never
// affects the other. Used to snapshot a pre-transition WarpState before the
// reducer folds patches into it in place.
func (s *ORSet) Clone() *ORSet {
	return LoadFromCheckpoint(s.LiveEntries(), s.Tombstones())
}

// LoadFromCheckpoint rebuilds an OR-Set from decoded checkpoint entries,
// bypassing the add/remove invariant checks since the checkpoint is
// authoritative.
func LoadFromCheckpoint(liveEntries map[string][]dot.Dot, tombstones []dot.Dot) *ORSet {
	s := NewORSet()
	for el, dots := range liveEntries {
		m := make(map[dot.Dot]struct{}, len(dots))
		for _, d := range dots {
			m[d] = struct{}{}
		}
		if len(m) > 0 {
			s.live[el] = m
		}
	}
	for _, d := range tombstones {
		s.tombstones[d] = struct{}{}
	}
	return s
}
