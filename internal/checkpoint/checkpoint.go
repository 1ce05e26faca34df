// Package checkpoint implements the checkpoint codec: a full serialization
// of a WarpState plus its provenance index, so the materializer can resume
// from a recent snapshot instead of replaying a writer's entire chain.
package checkpoint

import (
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/git-stunts/git-warp/internal/cborcodec"
	"github.com/git-stunts/git-warp/internal/crdt"
	"github.com/git-stunts/git-warp/internal/dot"
	"github.com/git-stunts/git-warp/internal/reducer"
)

// Schema is the checkpoint format version this codec emits. Bumped whenever
// the wire struct below gains or loses a field.
const Schema = 1

// Checkpoint is the authoritative serialized form of a WarpState: full
// OR-Set live entries and tombstones, every LWW register, the observed
// frontier, and edge birth events. AppliedVV is a second version vector
// derived by scanning every dot (live and tombstoned) at checkpoint-creation
// time, kept independent of ObservedFrontier so that a later tombstone GC
// cannot erase the information a resuming materializer needs.
type Checkpoint struct {
	Schema           int
	Graph            string
	NodeAlive        SetSnapshot
	EdgeAlive        SetSnapshot
	Prop             map[string]PropEntry
	ObservedFrontier dot.VersionVector
	AppliedVV        dot.VersionVector
	EdgeBirthEvent   map[string]EventIdEntry
	// Provenance is the entity -> sorted patch SHAs index, carried so that
	// resuming from a checkpoint does not lose provenance history for
	// entities touched only by patches folded before the checkpoint.
	Provenance map[string][]string
	// Frontier records each writer's tip SHA at checkpoint-creation time, so
	// the materializer knows where to resume each writer's chain from.
	Frontier map[string]string
}

// SetSnapshot is the wire form of an OR-Set: every element's live dots plus
// the flat tombstone set.
type SetSnapshot struct {
	Live       map[string][]dot.Dot `cbor:"live"`
	Tombstones []dot.Dot            `cbor:"tombstones"`
}

// PropEntry is the wire form of an LWW register.
type PropEntry struct {
	EventId EventIdEntry `cbor:"eventId"`
	Value   interface{}  `cbor:"value"`
}

// EventIdEntry is the wire form of crdt.EventId.
type EventIdEntry struct {
	Lamport  uint64 `cbor:"lamport"`
	Writer   string `cbor:"writer"`
	PatchSha string `cbor:"patchSha"`
	OpIndex  int    `cbor:"opIndex"`
}

func toEventIdEntry(e crdt.EventId) EventIdEntry {
	return EventIdEntry{Lamport: e.Lamport, Writer: e.Writer, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

func fromEventIdEntry(e EventIdEntry) crdt.EventId {
	return crdt.EventId{Lamport: e.Lamport, Writer: e.Writer, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

func toSetSnapshot(s *crdt.ORSet) SetSnapshot {
	return SetSnapshot{Live: s.LiveEntries(), Tombstones: s.Tombstones()}
}

// appliedVV scans every live and tombstoned dot across both OR-Sets and
// returns their componentwise max, independent of ObservedFrontier.
func appliedVV(state *reducer.WarpState) dot.VersionVector {
	vv := dot.VersionVector{}
	scan := func(s *crdt.ORSet) {
		for _, dots := range s.LiveEntries() {
			for _, d := range dots {
				vv.Advance(d.Writer, d.Counter)
			}
		}
		for _, d := range s.Tombstones() {
			vv.Advance(d.Writer, d.Counter)
		}
	}
	scan(state.NodeAlive)
	scan(state.EdgeAlive)
	return vv
}

// FromState builds a Checkpoint from a materialized state and provenance
// snapshot.
func FromState(graph string, state *reducer.WarpState, provenance map[string][]string, frontier map[string]string) *Checkpoint {
	prop := make(map[string]PropEntry, len(state.Prop))
	for key, reg := range state.Prop {
		prop[key] = PropEntry{EventId: toEventIdEntry(reg.EventId), Value: reg.Value}
	}

	edgeBirth := make(map[string]EventIdEntry, len(state.EdgeBirthEvent))
	for key, ev := range state.EdgeBirthEvent {
		edgeBirth[key] = toEventIdEntry(ev)
	}

	prov := make(map[string][]string, len(provenance))
	for entity, shas := range provenance {
		sorted := append([]string(nil), shas...)
		sort.Strings(sorted)
		prov[entity] = sorted
	}

	return &Checkpoint{
		Schema:           Schema,
		Graph:            graph,
		NodeAlive:        toSetSnapshot(state.NodeAlive),
		EdgeAlive:        toSetSnapshot(state.EdgeAlive),
		Prop:             prop,
		ObservedFrontier: state.ObservedFrontier.Clone(),
		AppliedVV:        appliedVV(state),
		EdgeBirthEvent:   edgeBirth,
		Provenance:       prov,
		Frontier:         frontier,
	}
}

// ToState rebuilds a WarpState from a checkpoint, bypassing the reducer's
// op-by-op path since the checkpoint is authoritative.
func (c *Checkpoint) ToState() *reducer.WarpState {
	state := reducer.NewWarpState()
	state.NodeAlive = crdt.LoadFromCheckpoint(c.NodeAlive.Live, c.NodeAlive.Tombstones)
	state.EdgeAlive = crdt.LoadFromCheckpoint(c.EdgeAlive.Live, c.EdgeAlive.Tombstones)
	for key, entry := range c.Prop {
		state.Prop[key] = &crdt.Register{EventId: fromEventIdEntry(entry.EventId), Value: entry.Value}
	}
	state.ObservedFrontier = c.ObservedFrontier.Clone()
	for key, entry := range c.EdgeBirthEvent {
		ev := fromEventIdEntry(entry)
		state.EdgeBirthEvent[key] = ev
		state.MaxLamportObserved = maxUint64(state.MaxLamportObserved, ev.Lamport)
	}
	for _, reg := range state.Prop {
		state.MaxLamportObserved = maxUint64(state.MaxLamportObserved, reg.EventId.Lamport)
	}
	return state
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// wireCheckpoint mirrors Checkpoint plus the legacy edgeBirthLamport field,
// which the decoder accepts but the encoder never emits (resolved Open
// Question: new implementations should emit only the typed edgeBirthEvent
// form).
type wireCheckpoint struct {
	Schema           int                      `cbor:"schema"`
	Graph            string                   `cbor:"graph"`
	NodeAlive        SetSnapshot              `cbor:"nodeAlive"`
	EdgeAlive        SetSnapshot              `cbor:"edgeAlive"`
	Prop             map[string]PropEntry     `cbor:"prop"`
	ObservedFrontier dot.VersionVector        `cbor:"observedFrontier"`
	AppliedVV        dot.VersionVector        `cbor:"appliedVV"`
	EdgeBirthEvent   map[string]EventIdEntry  `cbor:"edgeBirthEvent,omitempty"`
	EdgeBirthLamport map[string]legacyBirth   `cbor:"edgeBirthLamport,omitempty"`
	Provenance       map[string][]string      `cbor:"provenance,omitempty"`
	Frontier         map[string]string        `cbor:"frontier,omitempty"`
}

// legacyBirth is the pre-EventId edge-birth record: just (writer, lamport).
type legacyBirth struct {
	Writer  string `cbor:"writer"`
	Lamport uint64 `cbor:"lamport"`
}

// Encode canonically encodes the checkpoint. Only the typed edgeBirthEvent
// form is ever emitted.
func (c *Checkpoint) Encode() ([]byte, error) {
	w := wireCheckpoint{
		Schema:           c.Schema,
		Graph:            c.Graph,
		NodeAlive:        c.NodeAlive,
		EdgeAlive:        c.EdgeAlive,
		Prop:             c.Prop,
		ObservedFrontier: c.ObservedFrontier,
		AppliedVV:        c.AppliedVV,
		EdgeBirthEvent:   c.EdgeBirthEvent,
		Provenance:       c.Provenance,
		Frontier:         c.Frontier,
	}
	return cborcodec.Canonical.Marshal(w)
}

// Decode parses a checkpoint blob. If the legacy edgeBirthLamport field is
// present and edgeBirthEvent is absent, each (writer, lamport) pair is
// upgraded to a synthesized EventId with an empty PatchSha and OpIndex -1,
// which always sorts before any real op at the same Lamport/writer.
func Decode(data []byte) (*Checkpoint, error) {
	var w wireCheckpoint
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	edgeBirth := w.EdgeBirthEvent
	if edgeBirth == nil && w.EdgeBirthLamport != nil {
		edgeBirth = make(map[string]EventIdEntry, len(w.EdgeBirthLamport))
		for key, legacy := range w.EdgeBirthLamport {
			edgeBirth[key] = EventIdEntry{
				Lamport:  legacy.Lamport,
				Writer:   legacy.Writer,
				PatchSha: "",
				OpIndex:  -1,
			}
		}
	}

	return &Checkpoint{
		Schema:           w.Schema,
		Graph:            w.Graph,
		NodeAlive:        w.NodeAlive,
		EdgeAlive:        w.EdgeAlive,
		Prop:             w.Prop,
		ObservedFrontier: w.ObservedFrontier,
		AppliedVV:        w.AppliedVV,
		EdgeBirthEvent:   edgeBirth,
		Provenance:       w.Provenance,
		Frontier:         w.Frontier,
	}, nil
}
