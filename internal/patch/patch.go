// Package patch defines the Patch type and its canonical CBOR encoding, the
// unit of work committed to a writer's chain.
package patch

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/git-stunts/git-warp/internal/cborcodec"
	"github.com/git-stunts/git-warp/internal/dot"
)

const (
	SchemaNoEdgeProps = 2
	SchemaEdgeProps   = 3
)

// Patch is one writer's unit of work: an ordered sequence of ops built
// against a captured causal context, plus provenance bookkeeping.
type Patch struct {
	Schema  int
	Writer  string
	Lamport uint64
	Context dot.VersionVector
	Ops     []Op
	// Reads and Writes are sorted sets of entity IDs for the provenance index.
	Reads  []string
	Writes []string
}

// DeriveSchema returns SchemaEdgeProps if any op sets an edge property, else
// SchemaNoEdgeProps.
func DeriveSchema(ops []Op) int {
	for _, op := range ops {
		if p, ok := op.(PropSetOp); ok && p.IsEdge {
			return SchemaEdgeProps
		}
	}
	return SchemaNoEdgeProps
}

var canonicalEncMode = cborcodec.Canonical

// wireOp is the CBOR-level representation of Op: a tagged map with fixed
// keys, absent fields omitted rather than encoded as null.
type wireOp struct {
	Type     string      `cbor:"type"`
	NodeID   string      `cbor:"nodeId,omitempty"`
	From     string      `cbor:"from,omitempty"`
	To       string      `cbor:"to,omitempty"`
	Label    string      `cbor:"label,omitempty"`
	Dot      *dot.Dot    `cbor:"dot,omitempty"`
	Observed []dot.Dot   `cbor:"observed,omitempty"`
	IsEdge   bool        `cbor:"isEdge,omitempty"`
	Key      string      `cbor:"key,omitempty"`
	Value    interface{} `cbor:"value,omitempty"`
}

func toWireOp(op Op) (wireOp, error) {
	switch o := op.(type) {
	case NodeAddOp:
		return wireOp{Type: TypeNodeAdd, NodeID: o.NodeID, Dot: &o.Dot}, nil
	case NodeRemoveOp:
		return wireOp{Type: TypeNodeRemove, NodeID: o.NodeID, Observed: o.Observed}, nil
	case EdgeAddOp:
		return wireOp{Type: TypeEdgeAdd, From: o.From, To: o.To, Label: o.Label, Dot: &o.Dot}, nil
	case EdgeRemoveOp:
		return wireOp{Type: TypeEdgeRemove, From: o.From, To: o.To, Label: o.Label, Observed: o.Observed}, nil
	case PropSetOp:
		return wireOp{
			Type: TypePropSet, IsEdge: o.IsEdge, NodeID: o.NodeID,
			From: o.From, To: o.To, Label: o.Label, Key: o.Key, Value: o.Value,
		}, nil
	default:
		return wireOp{}, fmt.Errorf("patch: unknown op type %T", op)
	}
}

func fromWireOp(w wireOp) (Op, error) {
	switch w.Type {
	case TypeNodeAdd:
		if w.Dot == nil {
			return nil, fmt.Errorf("patch: NodeAdd missing dot")
		}
		return NodeAddOp{NodeID: w.NodeID, Dot: *w.Dot}, nil
	case TypeNodeRemove:
		return NodeRemoveOp{NodeID: w.NodeID, Observed: w.Observed}, nil
	case TypeEdgeAdd:
		if w.Dot == nil {
			return nil, fmt.Errorf("patch: EdgeAdd missing dot")
		}
		return EdgeAddOp{From: w.From, To: w.To, Label: w.Label, Dot: *w.Dot}, nil
	case TypeEdgeRemove:
		return EdgeRemoveOp{From: w.From, To: w.To, Label: w.Label, Observed: w.Observed}, nil
	case TypePropSet:
		return PropSetOp{
			IsEdge: w.IsEdge, NodeID: w.NodeID,
			From: w.From, To: w.To, Label: w.Label, Key: w.Key, Value: w.Value,
		}, nil
	default:
		return nil, fmt.Errorf("patch: unknown op type %q", w.Type)
	}
}

type wirePatch struct {
	Schema  int                `cbor:"schema"`
	Writer  string             `cbor:"writer"`
	Lamport uint64             `cbor:"lamport"`
	Context map[string]uint64  `cbor:"context"`
	Ops     []wireOp           `cbor:"ops"`
	Reads   []string           `cbor:"reads"`
	Writes  []string           `cbor:"writes"`
}

// Encode produces the canonical CBOR blob for p. Keys are sorted by the bytes
// of their CBOR encoding (cborcodec.Canonical), which puts shorter keys first:
// ops, reads, schema, writer, writes, context, lamport. This is not plain
// alphabetical key order.
func (p *Patch) Encode() ([]byte, error) {
	wireOps := make([]wireOp, len(p.Ops))
	for i, op := range p.Ops {
		w, err := toWireOp(op)
		if err != nil {
			return nil, err
		}
		wireOps[i] = w
	}

	ctx := map[string]uint64(p.Context)
	if ctx == nil {
		ctx = map[string]uint64{}
	}
	reads := p.Reads
	if reads == nil {
		reads = []string{}
	}
	writes := p.Writes
	if writes == nil {
		writes = []string{}
	}

	wp := wirePatch{
		Schema:  p.Schema,
		Writer:  p.Writer,
		Lamport: p.Lamport,
		Context: ctx,
		Ops:     wireOps,
		Reads:   reads,
		Writes:  writes,
	}
	return canonicalEncMode.Marshal(wp)
}

// Decode parses a canonical CBOR patch blob produced by Encode.
func Decode(data []byte) (*Patch, error) {
	var wp wirePatch
	if err := cbor.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("patch: decode: %w", err)
	}
	ops := make([]Op, len(wp.Ops))
	for i, w := range wp.Ops {
		op, err := fromWireOp(w)
		if err != nil {
			return nil, fmt.Errorf("patch: decode op %d: %w", i, err)
		}
		ops[i] = op
	}
	return &Patch{
		Schema:  wp.Schema,
		Writer:  wp.Writer,
		Lamport: wp.Lamport,
		Context: dot.VersionVector(wp.Context),
		Ops:     ops,
		Reads:   wp.Reads,
		Writes:  wp.Writes,
	}, nil
}
