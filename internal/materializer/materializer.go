// Package materializer implements the materialization pipeline:
// checkpoint-accelerated replay, ceiling-bounded snapshots, and eager
// incremental application, plus the subscriber fan-out and tombstone GC that
// ride along with it.
package materializer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/git-stunts/git-warp/internal/checkpoint"
	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/provenance"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/refs"
)

// maxConcurrentWriterWalks bounds how many writer chains are fetched and
// walked at once, so a graph with many writers doesn't open an unbounded
// number of concurrent persistence reads.
const maxConcurrentWriterWalks = 8

// walkWritersConcurrently resolves each writer's current tip and walks its
// chain down to sinceSha(writer), fanning the I/O out across writers since
// each writer's chain is independent of every other's. Order among the
// returned patches is irrelevant: reducer.Reduce sorts before folding.
func walkWritersConcurrently(ctx context.Context, persistence port.Persistence, graph string, writers []string, sinceSha func(writer string) (string, bool)) ([]reducer.PatchWithSha, error) {
	results := make([][]reducer.PatchWithSha, len(writers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWriterWalks)

	for i, writer := range writers {
		i, writer := i, writer
		g.Go(func() error {
			tip, found, err := persistence.ReadRef(gctx, refs.WriterRef(graph, writer))
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			since, skip := sinceSha(writer)
			if skip {
				return nil
			}
			patches, err := WalkChain(gctx, persistence, tip, since)
			if err != nil {
				return err
			}
			results[i] = patches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []reducer.PatchWithSha
	for _, patches := range results {
		all = append(all, patches...)
	}
	return all, nil
}

// CheckpointPolicy governs when materialize() creates a new checkpoint and
// runs tombstone GC.
type CheckpointPolicy struct {
	// PatchThreshold triggers a new checkpoint once this many patches have
	// been folded since the last one.
	PatchThreshold int
	// TombstoneRatioFloor is the minimum tombstones/(live+tombstones) ratio
	// required before GC runs, even if the patch threshold is crossed.
	TombstoneRatioFloor float64
}

// DefaultCheckpointPolicy picks conservative defaults for batch thresholds.
var DefaultCheckpointPolicy = CheckpointPolicy{PatchThreshold: 500, TombstoneRatioFloor: 0.2}

// Options controls one materialize() call.
type Options struct {
	// Ceiling, if non-nil, bounds replay to patches with lamport <= *Ceiling,
	// bypassing checkpoints and GC decision order step 1.
	Ceiling *uint64
}

// Subscriber receives a diff after every state transition that produces a
// non-empty diff (or has deferred replay pending). Errors are caught per
// handle so one subscriber's failure cannot starve the others.
type Subscriber func(diff StateDiff) error

type subscription struct {
	id              int
	fn              Subscriber
	deferredPending bool
	lastNotified    *reducer.WarpState
}

// Status is materialize()'s observability surface, returned by Status()
// without triggering a materialization.
type Status struct {
	CachedState            string // "fresh" | "stale" | "none"
	PatchesSinceCheckpoint int
	TombstoneRatio         float64
	Writers                []string
	Frontier               Frontier
}

// Materializer discovers writers, loads patches or resumes from a
// checkpoint, folds them via the join reducer, and caches the result.
type Materializer struct {
	persistence port.Persistence
	graph       string
	provStore   *provenance.MemoryStore
	policy      CheckpointPolicy

	mu                     sync.Mutex
	cached                 *reducer.WarpState
	cachedFrontier         Frontier
	patchesSinceCheckpoint int
	creatingCheckpoint     bool

	ceilingCache map[uint64]*reducer.WarpState

	subs      []*subscription
	nextSubID int
}

// New returns a Materializer for graph, backed by persistence and keeping
// its provenance index in provStore (created fresh if nil).
func New(persistence port.Persistence, graph string, provStore *provenance.MemoryStore, policy CheckpointPolicy) *Materializer {
	if provStore == nil {
		provStore = provenance.NewMemoryStore()
	}
	return &Materializer{
		persistence:  persistence,
		graph:        graph,
		provStore:    provStore,
		policy:       policy,
		ceilingCache: make(map[uint64]*reducer.WarpState),
	}
}

// Provenance exposes the materializer's provenance index.
func (m *Materializer) Provenance() *provenance.MemoryStore { return m.provStore }

// Materialize produces a consistent WarpState, preferring in order:
// ceiling-bounded replay, else checkpoint-resumed replay, else full
// discovery.
func (m *Materializer) Materialize(ctx context.Context, opts Options) (*reducer.WarpState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Ceiling != nil {
		return m.materializeCeiling(ctx, *opts.Ceiling)
	}
	return m.materializeLive(ctx)
}

// materializeCeiling bypasses checkpoints and GC and is cached per ceiling
// value, since a bounded replay is a point-in-time query rather than the
// live head of the graph.
func (m *Materializer) materializeCeiling(ctx context.Context, ceiling uint64) (*reducer.WarpState, error) {
	if cached, ok := m.ceilingCache[ceiling]; ok {
		return cached, nil
	}

	writers, err := discoverWriters(ctx, m.persistence, m.graph)
	if err != nil {
		return nil, err
	}

	fetched, err := walkWritersConcurrently(ctx, m.persistence, m.graph, writers, func(string) (string, bool) { return "", false })
	if err != nil {
		return nil, err
	}
	var all []reducer.PatchWithSha
	for _, pw := range fetched {
		if pw.Patch.Lamport <= ceiling {
			all = append(all, pw)
		}
	}

	state := reducer.NewWarpState()
	reducer.Reduce(state, all, false)
	for _, pw := range all {
		if err := m.provStore.Record(ctx, pw.Sha, pw.Patch.Reads, pw.Patch.Writes); err != nil {
			return nil, err
		}
	}
	m.ceilingCache[ceiling] = state
	return state, nil
}

// materializeLive implements decision-order steps 2 and 3: resume from
// checkpoint if present, else discover every writer chain from scratch.
func (m *Materializer) materializeLive(ctx context.Context) (*reducer.WarpState, error) {
	var state *reducer.WarpState
	var newPatches []reducer.PatchWithSha

	cp, found, err := loadCheckpoint(ctx, m.persistence, m.graph)
	if err != nil {
		return nil, err
	}

	if found && m.cached == nil {
		state = cp.ToState()
		m.provStore.LoadSnapshot(cp.Provenance)

		checkpointWriters := make([]string, 0, len(cp.Frontier))
		for writer := range cp.Frontier {
			checkpointWriters = append(checkpointWriters, writer)
		}
		checkpointed, err := walkWritersConcurrently(ctx, m.persistence, m.graph, checkpointWriters, func(writer string) (string, bool) {
			return cp.Frontier[writer], false
		})
		if err != nil {
			return nil, err
		}
		newPatches = append(newPatches, checkpointed...)

		// Writers that appear after the checkpoint was taken are not in its
		// frontier at all; discover and fold them in full.
		writers, err := discoverWriters(ctx, m.persistence, m.graph)
		if err != nil {
			return nil, err
		}
		var undiscovered []string
		for _, writer := range writers {
			if _, known := cp.Frontier[writer]; !known {
				undiscovered = append(undiscovered, writer)
			}
		}
		fresh, err := walkWritersConcurrently(ctx, m.persistence, m.graph, undiscovered, func(string) (string, bool) { return "", false })
		if err != nil {
			return nil, err
		}
		newPatches = append(newPatches, fresh...)
	} else if m.cached != nil {
		state = m.cached
		frontier, err := GetFrontier(ctx, m.persistence, m.graph)
		if err != nil {
			return nil, err
		}
		cachedFrontier := m.cachedFrontier
		delta, err := walkWritersConcurrently(ctx, m.persistence, m.graph, frontier.Writers(), func(writer string) (string, bool) {
			return cachedFrontier[writer], cachedFrontier[writer] == frontier[writer]
		})
		if err != nil {
			return nil, err
		}
		newPatches = append(newPatches, delta...)
	} else {
		state = reducer.NewWarpState()
		writers, err := discoverWriters(ctx, m.persistence, m.graph)
		if err != nil {
			return nil, err
		}
		fresh, err := walkWritersConcurrently(ctx, m.persistence, m.graph, writers, func(string) (string, bool) { return "", false })
		if err != nil {
			return nil, err
		}
		newPatches = append(newPatches, fresh...)
	}

	reducer.Reduce(state, newPatches, false)
	for _, pw := range newPatches {
		if err := m.provStore.Record(ctx, pw.Sha, pw.Patch.Reads, pw.Patch.Writes); err != nil {
			return nil, err
		}
	}

	frontier, err := GetFrontier(ctx, m.persistence, m.graph)
	if err != nil {
		return nil, err
	}

	m.cached = state
	m.cachedFrontier = frontier
	m.patchesSinceCheckpoint += len(newPatches)

	m.notify(ctx, state)

	if m.patchesSinceCheckpoint >= m.policy.PatchThreshold && !m.creatingCheckpoint {
		m.creatingCheckpoint = true
		cp := checkpoint.FromState(m.graph, state, m.provStore.Snapshot(), frontier)
		if err := saveCheckpoint(ctx, m.persistence, m.graph, cp); err != nil {
			m.creatingCheckpoint = false
			return nil, fmt.Errorf("materializer: create checkpoint: %w", err)
		}
		m.patchesSinceCheckpoint = 0
		m.creatingCheckpoint = false

		if tombstoneRatio(state) > m.policy.TombstoneRatioFloor {
			state.NodeAlive.GC(state.ObservedFrontier)
			state.EdgeAlive.GC(state.ObservedFrontier)
		}
	}

	return state, nil
}

// discoverWriters lists every writer chain for graph.
func discoverWriters(ctx context.Context, persistence port.Persistence, graph string) ([]string, error) {
	prefix := refs.WritersPrefix(graph)
	names, err := persistence.ListRefs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	writers := make([]string, 0, len(names))
	for _, name := range names {
		if w, ok := refs.WriterFromRef(name, prefix); ok {
			writers = append(writers, w)
		}
	}
	return writers, nil
}

func tombstoneRatio(state *reducer.WarpState) float64 {
	liveCount := len(state.NodeAlive.Elements()) + len(state.EdgeAlive.Elements())
	tombCount := len(state.NodeAlive.Tombstones()) + len(state.EdgeAlive.Tombstones())
	total := liveCount + tombCount
	if total == 0 {
		return 0
	}
	return float64(tombCount) / float64(total)
}

// Status reports the materializer's cache state without triggering a
// materialization.
func (m *Materializer) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frontier, err := GetFrontier(ctx, m.persistence, m.graph)
	if err != nil {
		return Status{}, err
	}

	cachedState := "none"
	var ratio float64
	if m.cached != nil {
		ratio = tombstoneRatio(m.cached)
		if m.cachedFrontier.Equal(frontier) {
			cachedState = "fresh"
		} else {
			cachedState = "stale"
		}
	}

	return Status{
		CachedState:            cachedState,
		PatchesSinceCheckpoint: m.patchesSinceCheckpoint,
		TombstoneRatio:         ratio,
		Writers:                frontier.Writers(),
		Frontier:               frontier,
	}, nil
}

// Subscribe registers fn to receive a diff after every state transition.
// Returns a subscription ID usable with Unsubscribe.
func (m *Materializer) Subscribe(fn Subscriber) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	m.subs = append(m.subs, &subscription{id: m.nextSubID, fn: fn, deferredPending: true})
	return m.nextSubID
}

// Unsubscribe removes a subscription by ID.
func (m *Materializer) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// notify fans a diff out to every subscriber, catching and isolating each
// handler's error so one subscriber's failure does not starve the others.
//
// Each subscriber diffs against its own lastNotified snapshot rather than a
// single shared prevState: newState may be the very pointer Reduce just
// mutated in place (m.cached), so a diff computed against it after the fact
// would always come up empty. lastNotified is a clone taken at the moment a
// subscriber last fired, immune to any later in-place fold, and doubles as
// each subscriber's own baseline if it joined mid-stream.
func (m *Materializer) notify(_ context.Context, newState *reducer.WarpState) {
	if len(m.subs) == 0 {
		return
	}
	var snapshot *reducer.WarpState
	for _, s := range m.subs {
		diff := diffStates(s.lastNotified, newState)
		if diff.Empty() && !s.deferredPending {
			continue
		}
		s.deferredPending = false
		if snapshot == nil {
			snapshot = newState.Clone()
		}
		s.lastNotified = snapshot
		func() {
			defer func() { recover() }()
			_ = s.fn(diff)
		}()
	}
}

// RequireCached returns the cached state, or E_NO_STATE if none has been
// materialized yet (used by the sync controller, step 1).
func (m *Materializer) RequireCached() (*reducer.WarpState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		return nil, warperrors.RequireMaterialized("applySyncResponse")
	}
	return m.cached, nil
}

// ApplyExternal folds patches received from a sync peer directly into the
// cached state without touching the local persisted writer chains. Requires
// a prior Materialize call.
func (m *Materializer) ApplyExternal(ctx context.Context, patches []reducer.PatchWithSha) (*reducer.WarpState, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		return nil, 0, warperrors.RequireMaterialized("applySyncResponse")
	}
	reducer.Reduce(m.cached, patches, false)
	for _, pw := range patches {
		if err := m.provStore.Record(ctx, pw.Sha, pw.Patch.Reads, pw.Patch.Writes); err != nil {
			return nil, 0, err
		}
	}
	m.notify(ctx, m.cached)
	return m.cached, len(patches), nil
}

// ApplyLocalCommit eagerly folds a patch this process just committed into
// the cached state, returning the resulting tick receipt for the audit
// service. This only applies when the cache is already materialized; a
// false return with no error means the caller has no cache to fold into and
// the receipt must be dropped rather than forced through a fresh replay.
func (m *Materializer) ApplyLocalCommit(ctx context.Context, pw reducer.PatchWithSha) (reducer.TickReceipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		return reducer.TickReceipt{}, false, nil
	}
	receipts := reducer.Reduce(m.cached, []reducer.PatchWithSha{pw}, true)
	if err := m.provStore.Record(ctx, pw.Sha, pw.Patch.Reads, pw.Patch.Writes); err != nil {
		return reducer.TickReceipt{}, false, err
	}
	m.notify(ctx, m.cached)
	if len(receipts) == 0 {
		return reducer.TickReceipt{}, false, nil
	}
	return receipts[0], true, nil
}

// HasFrontierChanged compares the graph's current writer frontier to the
// frontier observed at the last Materialize call.
func (m *Materializer) HasFrontierChanged(ctx context.Context) (bool, error) {
	frontier, err := GetFrontier(ctx, m.persistence, m.graph)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.cachedFrontier.Equal(frontier), nil
}
