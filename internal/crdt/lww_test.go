package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLWWTieBreak(t *testing.T) {
	// S6: equal Lamport, alice < bob byte-wise so alice's EventId is lower,
	// meaning bob's write has the greater EventId and wins.
	r := &Register{}
	aliceEvent := EventId{Lamport: 5, Writer: "alice", PatchSha: "aaaa", OpIndex: 0}
	bobEvent := EventId{Lamport: 5, Writer: "bob", PatchSha: "bbbb", OpIndex: 0}

	assert.Equal(t, ResultApplied, r.Merge(aliceEvent, "engineering"))
	assert.Equal(t, ResultApplied, r.Merge(bobEvent, "sales"))
	assert.Equal(t, "sales", r.Value)

	// Applying alice's (now-stale) write again must not win.
	assert.Equal(t, ResultSuperseded, r.Merge(aliceEvent, "engineering"))
	assert.Equal(t, "sales", r.Value)
}

func TestLWWEqualEventIdIsFlaggedAsConflict(t *testing.T) {
	r := &Register{}
	ev := EventId{Lamport: 5, Writer: "alice", PatchSha: "aaaa", OpIndex: 0}

	assert.Equal(t, ResultApplied, r.Merge(ev, "engineering"))

	// A second write reusing the exact same EventId must be flagged as a
	// conflict, not silently folded into Superseded: a correctly built
	// patch chain never mints the same (lamport, writer, patchSha, opIndex)
	// twice.
	assert.Equal(t, ResultConflict, r.Merge(ev, "sales"))
	assert.Equal(t, "engineering", r.Value, "a conflicting write must not overwrite the existing value")
}

func TestLWWTotality(t *testing.T) {
	e1 := EventId{Lamport: 1, Writer: "a", PatchSha: "aa", OpIndex: 0}
	e2 := EventId{Lamport: 1, Writer: "b", PatchSha: "aa", OpIndex: 0}
	assert.True(t, e1.Less(e2) || e2.Less(e1))
	assert.False(t, e1.Equal(e2))
}
