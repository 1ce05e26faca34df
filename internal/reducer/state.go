// Package reducer implements the join reducer: the pure function that folds
// an ordered sequence of patches into a WarpState.
package reducer

import (
	"sort"

	"github.com/git-stunts/git-warp/internal/crdt"
	"github.com/git-stunts/git-warp/internal/dot"
	"github.com/git-stunts/git-warp/internal/keycodec"
)

// WarpState is the materialized snapshot of a graph.
type WarpState struct {
	NodeAlive        *crdt.ORSet
	EdgeAlive        *crdt.ORSet
	Prop             map[string]*crdt.Register
	ObservedFrontier dot.VersionVector
	// EdgeBirthEvent maps an edge key to the EventId that first made it
	// live, used for deterministic edge-property tie-breaks and reconstructed
	// on replay.
	EdgeBirthEvent map[string]crdt.EventId
	// MaxLamportObserved is the highest patch Lamport folded into this state
	// so far, across all writers. The builder uses it to guarantee a new
	// patch's Lamport is >= any previously observed Lamport + 1.
	MaxLamportObserved uint64
}

// NewWarpState returns an empty state.
func NewWarpState() *WarpState {
	return &WarpState{
		NodeAlive:        crdt.NewORSet(),
		EdgeAlive:        crdt.NewORSet(),
		Prop:             make(map[string]*crdt.Register),
		ObservedFrontier: dot.VersionVector{},
		EdgeBirthEvent:   make(map[string]crdt.EventId),
	}
}

// Clone returns a deep copy of s: folding patches into the clone (or into s)
// never affects the other. Callers that need to diff a state transition
// against its pre-fold shape must clone before calling Reduce, since Reduce
// mutates its state argument in place.
func (s *WarpState) Clone() *WarpState {
	prop := make(map[string]*crdt.Register, len(s.Prop))
	for key, reg := range s.Prop {
		clone := *reg
		prop[key] = &clone
	}

	edgeBirth := make(map[string]crdt.EventId, len(s.EdgeBirthEvent))
	for key, ev := range s.EdgeBirthEvent {
		edgeBirth[key] = ev
	}

	return &WarpState{
		NodeAlive:          s.NodeAlive.Clone(),
		EdgeAlive:          s.EdgeAlive.Clone(),
		Prop:               prop,
		ObservedFrontier:   s.ObservedFrontier.Clone(),
		EdgeBirthEvent:     edgeBirth,
		MaxLamportObserved: s.MaxLamportObserved,
	}
}

// NodeExists reports whether node is currently alive.
func (s *WarpState) NodeExists(nodeID string) bool {
	return s.NodeAlive.Contains(nodeID)
}

// EdgeExists reports whether the edge is currently alive.
func (s *WarpState) EdgeExists(from, to, label string) bool {
	return s.EdgeAlive.Contains(keycodec.EdgeKey(from, to, label))
}

// registerFor returns the register at key, creating it if absent.
func (s *WarpState) registerFor(key string) *crdt.Register {
	r, ok := s.Prop[key]
	if !ok {
		r = &crdt.Register{}
		s.Prop[key] = r
	}
	return r
}

// OutgoingEdges returns (neighbor, label) pairs for edges leaving nodeID,
// sorted for deterministic adjacency views.
func (s *WarpState) OutgoingEdges(nodeID string) []Adjacency {
	var out []Adjacency
	for _, key := range s.EdgeAlive.Elements() {
		from, to, label, ok := keycodec.SplitEdgeKey(key)
		if !ok || from != nodeID {
			continue
		}
		out = append(out, Adjacency{Neighbor: to, Label: label})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Neighbor != out[j].Neighbor {
			return out[i].Neighbor < out[j].Neighbor
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// IncomingEdges returns (neighbor, label) pairs for edges arriving at nodeID.
func (s *WarpState) IncomingEdges(nodeID string) []Adjacency {
	var out []Adjacency
	for _, key := range s.EdgeAlive.Elements() {
		from, to, label, ok := keycodec.SplitEdgeKey(key)
		if !ok || to != nodeID {
			continue
		}
		out = append(out, Adjacency{Neighbor: from, Label: label})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Neighbor != out[j].Neighbor {
			return out[i].Neighbor < out[j].Neighbor
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Adjacency is one edge endpoint in an adjacency view.
type Adjacency struct {
	Neighbor string
	Label    string
}
