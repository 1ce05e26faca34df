package reducer

import (
	"fmt"
	"sort"

	"github.com/git-stunts/git-warp/internal/crdt"
	"github.com/git-stunts/git-warp/internal/dot"
	"github.com/git-stunts/git-warp/internal/keycodec"
	"github.com/git-stunts/git-warp/internal/patch"
)

// PatchWithSha pairs a decoded patch with the SHA of the commit it was
// committed in, the unit the reducer and materializer pass around.
type PatchWithSha struct {
	Patch *patch.Patch
	Sha   string
}

// OpRecord is one entry in a TickReceipt.
type OpRecord struct {
	Op     string
	Target string
	Result crdt.ApplyResult
	Reason string
}

// TickReceipt records the outcome of applying one patch, emitted when the
// reducer is asked for receipts.
type TickReceipt struct {
	PatchSha string
	Writer   string
	Lamport  uint64
	Ops      []OpRecord
}

// Sort orders a patch set into the reducer's total application order:
// primary by Lamport, secondary by writer ID byte order, tertiary by patch
// SHA byte order.
func Sort(patches []PatchWithSha) {
	sort.Slice(patches, func(i, j int) bool {
		a, b := patches[i], patches[j]
		if a.Patch.Lamport != b.Patch.Lamport {
			return a.Patch.Lamport < b.Patch.Lamport
		}
		if a.Patch.Writer != b.Patch.Writer {
			return a.Patch.Writer < b.Patch.Writer
		}
		return a.Sha < b.Sha
	})
}

// Reduce folds patches into state in the reducer's total order, mutating
// state in place. If emitReceipts is true, one TickReceipt is returned per
// patch in application order. The function is pure with respect to its
// inputs: the same patch multiset always yields the same resulting state
// and the same receipts, regardless of the slice's incoming order.
func Reduce(state *WarpState, patches []PatchWithSha, emitReceipts bool) []TickReceipt {
	ordered := make([]PatchWithSha, len(patches))
	copy(ordered, patches)
	Sort(ordered)

	var receipts []TickReceipt
	for _, pw := range ordered {
		recs := applyPatch(state, pw, emitReceipts)
		if emitReceipts {
			receipts = append(receipts, TickReceipt{
				PatchSha: pw.Sha,
				Writer:   pw.Patch.Writer,
				Lamport:  pw.Patch.Lamport,
				Ops:      recs,
			})
		}
	}
	return receipts
}

func applyPatch(state *WarpState, pw PatchWithSha, emitReceipts bool) []OpRecord {
	p := pw.Patch
	var recs []OpRecord

	observedDots := dot.VersionVector{}
	observe := func(d dot.Dot) {
		observedDots.Advance(d.Writer, d.Counter)
	}

	for i, op := range p.Ops {
		eventId := crdt.EventId{Lamport: p.Lamport, Writer: p.Writer, PatchSha: pw.Sha, OpIndex: i}

		switch o := op.(type) {
		case patch.NodeAddOp:
			result := state.NodeAlive.Add(o.NodeID, o.Dot)
			observe(o.Dot)
			if emitReceipts {
				recs = append(recs, OpRecord{Op: patch.TypeNodeAdd, Target: o.NodeID, Result: result})
			}

		case patch.NodeRemoveOp:
			result := state.NodeAlive.Remove(o.NodeID, o.Observed)
			for _, d := range o.Observed {
				observe(d)
			}
			if emitReceipts {
				recs = append(recs, OpRecord{Op: patch.TypeNodeRemove, Target: o.NodeID, Result: result})
			}

		case patch.EdgeAddOp:
			key := keycodec.EdgeKey(o.From, o.To, o.Label)
			wasAlive := state.EdgeAlive.Contains(key)
			result := state.EdgeAlive.Add(key, o.Dot)
			observe(o.Dot)
			if !wasAlive && state.EdgeAlive.Contains(key) {
				state.EdgeBirthEvent[key] = eventId
			}
			if emitReceipts {
				recs = append(recs, OpRecord{Op: patch.TypeEdgeAdd, Target: key, Result: result})
			}

		case patch.EdgeRemoveOp:
			key := keycodec.EdgeKey(o.From, o.To, o.Label)
			result := state.EdgeAlive.Remove(key, o.Observed)
			for _, d := range o.Observed {
				observe(d)
			}
			if emitReceipts {
				recs = append(recs, OpRecord{Op: patch.TypeEdgeRemove, Target: key, Result: result})
			}

		case patch.PropSetOp:
			var key string
			if o.IsEdge {
				key = keycodec.EdgePropKey(o.From, o.To, o.Label, o.Key)
			} else {
				key = keycodec.NodePropKey(o.NodeID, o.Key)
			}
			result := state.registerFor(key).Merge(eventId, o.Value)
			if emitReceipts {
				rec := OpRecord{Op: patch.TypePropSet, Target: key, Result: result}
				if result == crdt.ResultConflict {
					rec.Reason = fmt.Sprintf("duplicate eventId on propSet %s: lamport=%d writer=%s patchSha=%s opIndex=%d",
						key, eventId.Lamport, eventId.Writer, eventId.PatchSha, eventId.OpIndex)
				}
				recs = append(recs, rec)
			}
		}
	}

	state.ObservedFrontier = state.ObservedFrontier.Merge(observedDots).Merge(p.Context)
	if p.Lamport > state.MaxLamportObserved {
		state.MaxLamportObserved = p.Lamport
	}
	return recs
}
