package syncctl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-stunts/git-warp/internal/builder"
	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/materializer"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
)

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

func commitNode(t *testing.T, ctx context.Context, store port.Persistence, graph, writer, nodeID string) string {
	t.Helper()
	state := reducer.NewWarpState()
	b, err := builder.New(ctx, store, graph, writer, state, builder.DeletePolicyReject, nil)
	require.NoError(t, err)
	b.AddNode(nodeID)
	sha, _, err := b.Commit(ctx)
	require.NoError(t, err)
	return sha
}

// fakeTransport implements port.HttpServer by dispatching directly to a peer
// Controller's ProcessSyncRequest, optionally failing the first N attempts.
type fakeTransport struct {
	peer       *Controller
	failTimes  int
	failStatus int
	calls      int
}

func (ft *fakeTransport) Send(ctx context.Context, _ string, body []byte, _ int64) ([]byte, int, error) {
	ft.calls++
	if ft.calls <= ft.failTimes {
		return nil, ft.failStatus, nil
	}
	resp, err := ft.peer.ProcessSyncRequest(ctx, body)
	if err != nil {
		return nil, 500, err
	}
	return resp, 200, nil
}

func TestProcessSyncRequestReturnsOnlyTheDelta(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	sha1 := commitNode(t, ctx, store, "g1", "alice", "user:a")
	commitNode(t, ctx, store, "g1", "alice", "user:b")
	commitNode(t, ctx, store, "g1", "bob", "user:x")

	c := New(store, nil, "g1", materializer.New(store, "g1", nil, materializer.DefaultCheckpointPolicy))

	reqBody, err := marshalRequest(wireRequest{
		Type:     typeSyncRequest,
		Frontier: map[string]string{"alice": sha1},
	})
	require.NoError(t, err)

	respBody, err := c.ProcessSyncRequest(ctx, reqBody)
	require.NoError(t, err)

	resp, err := unmarshalResponse(respBody)
	require.NoError(t, err)

	var aliceCount, bobCount int
	for _, env := range resp.Patches {
		switch env.WriterID {
		case "alice":
			aliceCount++
		case "bob":
			bobCount++
		}
	}
	assert.Equal(t, 1, aliceCount, "alice should only send the patch after sha1")
	assert.Equal(t, 1, bobCount, "bob is unknown to the peer and sent in full")
}

func TestApplySyncResponseRequiresCachedState(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	c := New(store, nil, "g1", materializer.New(store, "g1", nil, materializer.DefaultCheckpointPolicy))

	_, err := c.ApplySyncResponse(ctx, []byte(`{"type":"sync-response","frontier":{},"patches":[]}`))
	require.Error(t, err)
	assert.Equal(t, warperrors.NoState, warperrors.GetKind(err))
}

func TestApplySyncResponseFoldsPatches(t *testing.T) {
	ctx := context.Background()
	remoteStore := newFakePersistence()
	commitNode(t, ctx, remoteStore, "g1", "alice", "user:a")

	remoteMat := materializer.New(remoteStore, "g1", nil, materializer.DefaultCheckpointPolicy)
	remote := New(remoteStore, nil, "g1", remoteMat)

	localStore := newFakePersistence()
	localMat := materializer.New(localStore, "g1", nil, materializer.DefaultCheckpointPolicy)
	local := New(localStore, nil, "g1", localMat)

	_, err := localMat.Materialize(ctx, materializer.Options{})
	require.NoError(t, err)

	reqBody, err := local.CreateSyncRequest(ctx)
	require.NoError(t, err)
	respBody, err := remote.ProcessSyncRequest(ctx, reqBody)
	require.NoError(t, err)

	result, err := local.ApplySyncResponse(ctx, respBody)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.True(t, result.State.NodeExists("user:a"))
}

func TestSyncWithRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	remoteStore := newFakePersistence()
	commitNode(t, ctx, remoteStore, "g1", "alice", "user:a")
	remote := New(remoteStore, nil, "g1", materializer.New(remoteStore, "g1", nil, materializer.DefaultCheckpointPolicy))

	localStore := newFakePersistence()
	localMat := materializer.New(localStore, "g1", nil, materializer.DefaultCheckpointPolicy)
	_, err := localMat.Materialize(ctx, materializer.Options{})
	require.NoError(t, err)

	transport := &fakeTransport{peer: remote, failTimes: 2, failStatus: 503}
	local := New(localStore, transport, "g1", localMat)

	opts := DefaultOptions
	opts.BaseDelay = 1
	opts.MaxDelay = 2
	opts.TimeoutPerAttempt = 1000 * 1000 * 1000 // 1s in ns, avoid importing time in test math

	result, err := local.SyncWith(ctx, "peer", opts)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 3, transport.calls)
}

func TestSyncWithNonRetryableProtocolError(t *testing.T) {
	ctx := context.Background()
	localStore := newFakePersistence()
	localMat := materializer.New(localStore, "g1", nil, materializer.DefaultCheckpointPolicy)
	_, err := localMat.Materialize(ctx, materializer.Options{})
	require.NoError(t, err)

	transport := &fakeTransport{failTimes: 100, failStatus: 400}
	local := New(localStore, transport, "g1", localMat)

	_, err = local.SyncWith(ctx, "peer", DefaultOptions)
	require.Error(t, err)
	assert.Equal(t, warperrors.SyncProtocol, warperrors.GetKind(err))
	assert.Equal(t, 1, transport.calls)
}

func TestHasFrontierChanged(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	mat := materializer.New(store, "g1", nil, materializer.DefaultCheckpointPolicy)
	c := New(store, nil, "g1", mat)

	_, err := mat.Materialize(ctx, materializer.Options{})
	require.NoError(t, err)

	changed, err := c.HasFrontierChanged(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	commitNode(t, ctx, store, "g1", "alice", "user:a")

	changed, err = c.HasFrontierChanged(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
}
