// Package builder implements the Patch Builder: accumulate ops against a
// captured causal context, then commit via compare-and-swap.
package builder

import (
	"context"
	"fmt"
	"sort"

	"github.com/git-stunts/git-warp/internal/dot"
	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/keycodec"
	"github.com/git-stunts/git-warp/internal/patch"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/refs"
	"github.com/git-stunts/git-warp/internal/trailer"
)

// DeletePolicy governs what happens when a node with incident edges is removed.
type DeletePolicy int

const (
	// DeletePolicyReject fails the operation if the node has incident edges.
	DeletePolicyReject DeletePolicy = iota
	// DeletePolicyCascade emits EdgeRemove ops for all incident edges first.
	DeletePolicyCascade
	// DeletePolicyWarn proceeds, leaving orphaned edges.
	DeletePolicyWarn
)

// OnCommit is invoked after a successful commit, carrying the patch and its
// commit SHA.
type OnCommit func(p *patch.Patch, sha string)

// Builder accumulates ops against a snapshot of WarpState and commits them
// as a single patch via CAS on the writer's tip ref. Not reentrant: one
// outstanding builder per (graph, writer) at a time
type Builder struct {
	persistence port.Persistence
	graph       string
	writer      string
	state       *reducer.WarpState
	vv          dot.VersionVector
	deletePolicy DeletePolicy
	onCommit    OnCommit

	expectedParent string // "" means no parent (genesis commit)
	ops            []patch.Op
	reads          map[string]struct{}
	writes         map[string]struct{}
}

// New captures the writer's current tip SHA for CAS and clones state's
// observed frontier to mint dots from.
func New(ctx context.Context, persistence port.Persistence, graph, writer string, state *reducer.WarpState, deletePolicy DeletePolicy, onCommit OnCommit) (*Builder, error) {
	if !refs.ValidWriterID(writer) {
		return nil, warperrors.InvalidArgumentf("builder: invalid writer id %q", writer)
	}
	tip, found, err := persistence.ReadRef(ctx, refs.WriterRef(graph, writer))
	if err != nil {
		return nil, warperrors.WrapPersistWriteFailed(err, "builder: read writer tip")
	}
	parent := ""
	if found {
		parent = tip
	}
	return &Builder{
		persistence:    persistence,
		graph:          graph,
		writer:         writer,
		state:          state,
		vv:             state.ObservedFrontier.Clone(),
		deletePolicy:   deletePolicy,
		onCommit:       onCommit,
		expectedParent: parent,
		reads:          make(map[string]struct{}),
		writes:         make(map[string]struct{}),
	}, nil
}

func (b *Builder) markRead(entity string)  { b.reads[entity] = struct{}{} }
func (b *Builder) markWrite(entity string) { b.writes[entity] = struct{}{} }

// AddNode enqueues a NodeAdd op with a freshly minted dot.
func (b *Builder) AddNode(nodeID string) {
	d := dot.Increment(b.vv, b.writer)
	b.ops = append(b.ops, patch.NodeAddOp{NodeID: nodeID, Dot: d})
	b.markWrite(nodeID)
}

// RemoveNode enqueues a NodeRemove op, observing the node's currently live
// dots. If the node has incident edges, behavior is governed by policy.
func (b *Builder) RemoveNode(nodeID string) error {
	incident := append(b.state.OutgoingEdges(nodeID), b.state.IncomingEdges(nodeID)...)
	if len(incident) > 0 {
		switch b.deletePolicy {
		case DeletePolicyReject:
			return warperrors.InvalidArgumentf("builder: node %q has %d incident edges, refusing delete (policy=reject)", nodeID, len(incident))
		case DeletePolicyCascade:
			for _, adj := range b.state.OutgoingEdges(nodeID) {
				if err := b.RemoveEdge(nodeID, adj.Neighbor, adj.Label); err != nil {
					return err
				}
			}
			for _, adj := range b.state.IncomingEdges(nodeID) {
				if err := b.RemoveEdge(adj.Neighbor, nodeID, adj.Label); err != nil {
					return err
				}
			}
		case DeletePolicyWarn:
			// proceed; orphaned edges remain by design
		}
	}

	observed := b.state.NodeAlive.LiveDots(nodeID)
	b.ops = append(b.ops, patch.NodeRemoveOp{NodeID: nodeID, Observed: observed})
	b.markRead(nodeID)
	return nil
}

// AddEdge enqueues an EdgeAdd op with a freshly minted dot.
func (b *Builder) AddEdge(from, to, label string) {
	d := dot.Increment(b.vv, b.writer)
	b.ops = append(b.ops, patch.EdgeAddOp{From: from, To: to, Label: label, Dot: d})
	b.markRead(from)
	b.markRead(to)
	b.markWrite(keycodec.EdgeKey(from, to, label))
}

// RemoveEdge enqueues an EdgeRemove op, observing the edge's currently live dots.
func (b *Builder) RemoveEdge(from, to, label string) error {
	key := keycodec.EdgeKey(from, to, label)
	observed := b.state.EdgeAlive.LiveDots(key)
	b.ops = append(b.ops, patch.EdgeRemoveOp{From: from, To: to, Label: label, Observed: observed})
	b.markRead(key)
	return nil
}

// SetNodeProp enqueues a PropSet op on a node property.
func (b *Builder) SetNodeProp(nodeID, key string, value interface{}) {
	b.ops = append(b.ops, patch.PropSetOp{NodeID: nodeID, Key: key, Value: value})
	target := keycodec.NodePropKey(nodeID, key)
	b.markRead(target)
	b.markWrite(target)
}

// SetEdgeProp enqueues a PropSet op on an edge property. The edge must exist
// either in this patch's own ops or in current state.
func (b *Builder) SetEdgeProp(from, to, label, key string, value interface{}) error {
	edgeKey := keycodec.EdgeKey(from, to, label)
	if !b.state.EdgeAlive.Contains(edgeKey) && !b.edgeAddedInPatch(from, to, label) {
		return warperrors.InvalidArgumentf("builder: edge %s->%s[%s] does not exist in this patch or current state", from, to, label)
	}
	b.ops = append(b.ops, patch.PropSetOp{IsEdge: true, From: from, To: to, Label: label, Key: key, Value: value})
	target := keycodec.EdgePropKey(from, to, label, key)
	b.markRead(target)
	b.markWrite(target)
	return nil
}

func (b *Builder) edgeAddedInPatch(from, to, label string) bool {
	for _, op := range b.ops {
		if e, ok := op.(patch.EdgeAddOp); ok && e.From == from && e.To == to && e.Label == label {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Commit canonically encodes the accumulated ops and commits them to the
// writer's chain via CAS five-step algorithm.
func (b *Builder) Commit(ctx context.Context) (sha string, committed *patch.Patch, err error) {
	if len(b.ops) == 0 {
		return "", nil, warperrors.EmptyPatchf("builder: commit called with no ops")
	}

	currentTip, found, err := b.persistence.ReadRef(ctx, refs.WriterRef(b.graph, b.writer))
	if err != nil {
		return "", nil, warperrors.WrapPersistWriteFailed(err, "builder: re-read writer tip")
	}
	actual := ""
	if found {
		actual = currentTip
	}
	if actual != b.expectedParent {
		return "", nil, warperrors.CASConflict(refs.WriterRef(b.graph, b.writer), b.expectedParent, actual)
	}

	lamport := b.state.MaxLamportObserved + 1
	if b.expectedParent != "" {
		info, err := b.persistence.GetNodeInfo(ctx, b.expectedParent)
		if err != nil {
			return "", nil, warperrors.WrapPersistWriteFailed(err, "builder: read parent commit info")
		}
		parentTrailers, err := trailer.ParsePatchTrailers(info.Message)
		if err != nil {
			return "", nil, warperrors.SchemaUnsupportedf("builder: parent commit trailers unparsable: %v", err)
		}
		if parentTrailers.Lamport+1 > lamport {
			lamport = parentTrailers.Lamport + 1
		}
	}

	p := &patch.Patch{
		Schema:  patch.DeriveSchema(b.ops),
		Writer:  b.writer,
		Lamport: lamport,
		Context: b.state.ObservedFrontier.Clone(),
		Ops:     b.ops,
		Reads:   sortedKeys(b.reads),
		Writes:  sortedKeys(b.writes),
	}

	blob, err := p.Encode()
	if err != nil {
		return "", nil, fmt.Errorf("builder: encode patch: %w", err)
	}
	blobOid, err := b.persistence.WriteBlob(ctx, blob)
	if err != nil {
		return "", nil, warperrors.WrapPersistWriteFailed(err, "builder: write patch blob")
	}
	treeOid, err := b.persistence.WriteTree(ctx, map[string]string{"patch.cbor": blobOid})
	if err != nil {
		return "", nil, warperrors.WrapPersistWriteFailed(err, "builder: write patch tree")
	}

	trailers := trailer.PatchTrailers{
		Schema: p.Schema, Graph: b.graph, Writer: b.writer, Lamport: p.Lamport, PatchOid: blobOid,
	}
	message := trailers.Format(fmt.Sprintf("patch(%s): lamport %d", b.writer, p.Lamport))

	var parents []string
	if b.expectedParent != "" {
		parents = []string{b.expectedParent}
	}
	newSha, err := b.persistence.CommitNodeWithTree(ctx, treeOid, parents, message)
	if err != nil {
		return "", nil, warperrors.WrapPersistWriteFailed(err, "builder: create commit")
	}

	if err := b.persistence.CompareAndSwapRef(ctx, refs.WriterRef(b.graph, b.writer), newSha, b.expectedParent); err != nil {
		return "", nil, warperrors.CASConflict(refs.WriterRef(b.graph, b.writer), b.expectedParent, "")
	}

	if b.onCommit != nil {
		b.onCommit(p, newSha)
	}
	return newSha, p, nil
}
