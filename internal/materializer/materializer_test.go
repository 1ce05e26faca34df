package materializer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/git-stunts/git-warp/internal/builder"
	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePersistence is an in-memory port.Persistence test double, mirroring
// the one in internal/builder's tests but kept package-local since Go test
// helpers are not exported across packages.
type fakePersistence struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]port.CommitInfo
	refs    map[string]string
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]port.CommitInfo),
		refs:    make(map[string]string),
	}
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (f *fakePersistence) WriteBlob(_ context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	oid := hashOf(data)
	f.blobs[oid] = data
	return oid, nil
}

func (f *fakePersistence) ReadBlob(_ context.Context, oid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[oid]
	if !ok {
		return nil, warperrors.NotFoundf("blob %s not found", oid)
	}
	return b, nil
}

func (f *fakePersistence) WriteTree(_ context.Context, entries map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	for _, k := range keys {
		buf = append(buf, []byte(k+"="+entries[k]+";")...)
	}
	oid := hashOf(buf)
	f.trees[oid] = entries
	return oid, nil
}

func (f *fakePersistence) ReadTreeOids(_ context.Context, oid string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trees[oid]
	if !ok {
		return nil, warperrors.NotFoundf("tree %s not found", oid)
	}
	return t, nil
}

func (f *fakePersistence) EmptyTreeOid() string { return hashOf(nil) }

func (f *fakePersistence) CommitNodeWithTree(_ context.Context, tree string, parents []string, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := []byte(fmt.Sprintf("%s|%v|%s|%d", tree, parents, message, len(f.commits)))
	sha := hashOf(buf)
	f.commits[sha] = port.CommitInfo{Message: message, Tree: tree, Parents: parents}
	return sha, nil
}

func (f *fakePersistence) GetNodeInfo(_ context.Context, sha string) (port.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.commits[sha]
	if !ok {
		return port.CommitInfo{}, warperrors.NotFoundf("commit %s not found", sha)
	}
	return info, nil
}

func (f *fakePersistence) ShowNode(ctx context.Context, sha string) (string, error) {
	info, err := f.GetNodeInfo(ctx, sha)
	if err != nil {
		return "", err
	}
	return info.Message, nil
}

func (f *fakePersistence) ReadRef(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.refs[name]
	return sha, ok, nil
}

func (f *fakePersistence) UpdateRef(_ context.Context, name, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[name] = sha
	return nil
}

func (f *fakePersistence) CompareAndSwapRef(_ context.Context, name, newSha, expectedSha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, exists := f.refs[name]
	if expectedSha == "" {
		if exists {
			return warperrors.CASConflict(name, expectedSha, current)
		}
	} else if !exists || current != expectedSha {
		return warperrors.CASConflict(name, expectedSha, current)
	}
	f.refs[name] = newSha
	return nil
}

func (f *fakePersistence) DeleteRef(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refs, name)
	return nil
}

func (f *fakePersistence) ListRefs(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.refs {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakePersistence) ConfigGet(_ context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (f *fakePersistence) ConfigSet(_ context.Context, key, value string) error { return nil }

var _ port.Persistence = (*fakePersistence)(nil)

func commitNode(t *testing.T, ctx context.Context, store port.Persistence, graph, writer, nodeID string) {
	t.Helper()
	state := reducer.NewWarpState()
	b, err := builder.New(ctx, store, graph, writer, state, builder.DeletePolicyReject, nil)
	require.NoError(t, err)
	b.AddNode(nodeID)
	_, _, err = b.Commit(ctx)
	require.NoError(t, err)
}

func TestMaterializeDiscoversAllWriters(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:x")
	commitNode(t, ctx, store, "g1", "bob", "user:x")

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	state, err := m.Materialize(ctx, Options{})
	require.NoError(t, err)

	assert.True(t, state.NodeExists("user:x"))
	assert.Len(t, state.NodeAlive.LiveDots("user:x"), 2)
}

func TestMaterializeIncrementalPicksUpNewCommits(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:a")

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	state, err := m.Materialize(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, state.NodeExists("user:a"))
	assert.False(t, state.NodeExists("user:b"))

	commitNode(t, ctx, store, "g1", "alice", "user:b")
	state, err = m.Materialize(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, state.NodeExists("user:b"))
}

func TestMaterializeCeilingBypassesLiveCache(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:a")
	commitNode(t, ctx, store, "g1", "alice", "user:b")

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	ceiling := uint64(1)
	state, err := m.Materialize(ctx, Options{Ceiling: &ceiling})
	require.NoError(t, err)
	assert.True(t, state.NodeExists("user:a"))
	assert.False(t, state.NodeExists("user:b"))
}

func TestMaterializeProvenanceRecorded(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:a")

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	_, err := m.Materialize(ctx, Options{})
	require.NoError(t, err)

	got, err := m.Provenance().PatchesFor(ctx, "user:a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMaterializeSubscriberReceivesDiff(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	var got StateDiff
	calls := 0
	m.Subscribe(func(diff StateDiff) error {
		calls++
		got = diff
		return nil
	})

	_, err := m.Materialize(ctx, Options{})
	require.NoError(t, err)

	commitNode(t, ctx, store, "g1", "alice", "user:a")
	_, err = m.Materialize(ctx, Options{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, calls, 1)
	assert.Contains(t, got.NodesAdded, "user:a")
}

func TestStatusReportsStateWithoutMaterializing(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:a")

	m := New(store, "g1", nil, DefaultCheckpointPolicy)
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "none", status.CachedState)
	assert.Equal(t, []string{"alice"}, status.Writers)

	_, err = m.Materialize(ctx, Options{})
	require.NoError(t, err)

	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", status.CachedState)
}

func TestMaterializeCheckpointThenResume(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	commitNode(t, ctx, store, "g1", "alice", "user:a")

	policy := CheckpointPolicy{PatchThreshold: 1, TombstoneRatioFloor: 0.99}
	m := New(store, "g1", nil, policy)
	_, err := m.Materialize(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.patchesSinceCheckpoint)

	commitNode(t, ctx, store, "g1", "bob", "user:b")

	m2 := New(store, "g1", nil, policy)
	state, err := m2.Materialize(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, state.NodeExists("user:a"))
	assert.True(t, state.NodeExists("user:b"))
}
