package patch

import "github.com/git-stunts/git-warp/internal/dot"

// Op is the sum type of the five operations a patch can carry. Each concrete type is its own
// variant; OpType is the tag used on the wire.
type Op interface {
	OpType() string
}

const (
	TypeNodeAdd    = "NodeAdd"
	TypeNodeRemove = "NodeRemove"
	TypeEdgeAdd    = "EdgeAdd"
	TypeEdgeRemove = "EdgeRemove"
	TypePropSet    = "PropSet"
)

// NodeAddOp adds a node with a freshly minted dot.
type NodeAddOp struct {
	NodeID string
	Dot    dot.Dot
}

func (NodeAddOp) OpType() string { return TypeNodeAdd }

// NodeRemoveOp removes a node, carrying the dots this writer observed live
// at build time.
type NodeRemoveOp struct {
	NodeID   string
	Observed []dot.Dot
}

func (NodeRemoveOp) OpType() string { return TypeNodeRemove }

// EdgeAddOp adds an edge with a freshly minted dot.
type EdgeAddOp struct {
	From, To, Label string
	Dot             dot.Dot
}

func (EdgeAddOp) OpType() string { return TypeEdgeAdd }

// EdgeRemoveOp removes an edge, carrying the dots this writer observed live.
type EdgeRemoveOp struct {
	From, To, Label string
	Observed        []dot.Dot
}

func (EdgeRemoveOp) OpType() string { return TypeEdgeRemove }

// PropSetOp sets a property on a node or an edge. Property values are a
// constrained JSON-compatible subset (string, number, bool, nil, and
// arrays/maps of those)
type PropSetOp struct {
	IsEdge bool
	// NodeID is set when !IsEdge.
	NodeID string
	// From, To, Label are set when IsEdge.
	From, To, Label string
	Key             string
	Value           interface{}
}

func (PropSetOp) OpType() string { return TypePropSet }
