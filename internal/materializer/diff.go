package materializer

import (
	"reflect"
	"sort"

	"github.com/git-stunts/git-warp/internal/reducer"
)

// StateDiff summarizes what changed between two materialized snapshots, the
// payload delivered to subscribers after a state transition.
type StateDiff struct {
	NodesAdded   []string
	NodesRemoved []string
	EdgesAdded   []string
	EdgesRemoved []string
	PropsChanged []string
}

// Empty reports whether the diff carries no changes at all.
func (d StateDiff) Empty() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 &&
		len(d.EdgesAdded) == 0 && len(d.EdgesRemoved) == 0 && len(d.PropsChanged) == 0
}

// diffStates computes the set-difference between two snapshots. prev may be
// nil, in which case every element of next is reported as added.
func diffStates(prev, next *reducer.WarpState) StateDiff {
	var diff StateDiff

	var prevNodes, prevEdges map[string]struct{}
	var prevProp map[string]interface{}
	if prev != nil {
		prevNodes = toSet(prev.NodeAlive.Elements())
		prevEdges = toSet(prev.EdgeAlive.Elements())
		prevProp = make(map[string]interface{}, len(prev.Prop))
		for k, r := range prev.Prop {
			prevProp[k] = r.Value
		}
	}

	nextNodes := toSet(next.NodeAlive.Elements())
	nextEdges := toSet(next.EdgeAlive.Elements())

	for n := range nextNodes {
		if _, existed := prevNodes[n]; !existed {
			diff.NodesAdded = append(diff.NodesAdded, n)
		}
	}
	for n := range prevNodes {
		if _, stillThere := nextNodes[n]; !stillThere {
			diff.NodesRemoved = append(diff.NodesRemoved, n)
		}
	}
	for e := range nextEdges {
		if _, existed := prevEdges[e]; !existed {
			diff.EdgesAdded = append(diff.EdgesAdded, e)
		}
	}
	for e := range prevEdges {
		if _, stillThere := nextEdges[e]; !stillThere {
			diff.EdgesRemoved = append(diff.EdgesRemoved, e)
		}
	}
	for key, reg := range next.Prop {
		if prevVal, ok := prevProp[key]; !ok || !reflect.DeepEqual(prevVal, reg.Value) {
			diff.PropsChanged = append(diff.PropsChanged, key)
		}
	}

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)
	sort.Strings(diff.EdgesAdded)
	sort.Strings(diff.EdgesRemoved)
	sort.Strings(diff.PropsChanged)
	return diff
}

func toSet(elements []string) map[string]struct{} {
	out := make(map[string]struct{}, len(elements))
	for _, e := range elements {
		out[e] = struct{}{}
	}
	return out
}
