package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-stunts/git-warp/internal/dot"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Patch{
		Schema:  SchemaNoEdgeProps,
		Writer:  "alice",
		Lamport: 3,
		Context: dot.VersionVector{"alice": 2},
		Ops: []Op{
			NodeAddOp{NodeID: "user:x", Dot: dot.Dot{Writer: "alice", Counter: 3}},
			PropSetOp{NodeID: "user:x", Key: "name", Value: "Alice"},
		},
		Reads:  []string{"user:x"},
		Writes: []string{"user:x"},
	}

	data, err := p.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p.Schema, decoded.Schema)
	assert.Equal(t, p.Writer, decoded.Writer)
	assert.Equal(t, p.Lamport, decoded.Lamport)
	assert.Equal(t, p.Context, decoded.Context)
	assert.Equal(t, p.Reads, decoded.Reads)
	assert.Equal(t, p.Writes, decoded.Writes)
	require.Len(t, decoded.Ops, 2)
	assert.Equal(t, p.Ops[0], decoded.Ops[0])
	assert.Equal(t, p.Ops[1], decoded.Ops[1])
}

func TestEncodeIsDeterministic(t *testing.T) {
	p := &Patch{
		Schema:  SchemaNoEdgeProps,
		Writer:  "alice",
		Lamport: 1,
		Context: dot.VersionVector{"alice": 1, "bob": 2, "carol": 1},
		Ops:     []Op{NodeAddOp{NodeID: "n", Dot: dot.Dot{Writer: "alice", Counter: 1}}},
		Reads:   []string{},
		Writes:  []string{"n"},
	}

	a, err := p.Encode()
	require.NoError(t, err)
	b, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeriveSchema(t *testing.T) {
	assert.Equal(t, SchemaNoEdgeProps, DeriveSchema([]Op{
		NodeAddOp{NodeID: "n", Dot: dot.Dot{Writer: "a", Counter: 1}},
		PropSetOp{NodeID: "n", Key: "k", Value: "v"},
	}))
	assert.Equal(t, SchemaEdgeProps, DeriveSchema([]Op{
		PropSetOp{IsEdge: true, From: "a", To: "b", Label: "l", Key: "k", Value: "v"},
	}))
}
