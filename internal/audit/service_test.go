package audit

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

	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/refs"
	"github.com/git-stunts/git-warp/internal/trailer"
)

// fakePersistence is an in-memory port.Persistence test double, the same
// shape used across the materializer and syncctl test suites.
type fakePersistence struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]port.CommitInfo
	refs    map[string]string

	// casFailures forces the next N CompareAndSwapRef calls on matchRef to
	// fail with a conflict, for exercising the degraded-state path.
	casFailures int
	matchRef    string
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

	if f.casFailures > 0 && name == f.matchRef {
		f.casFailures--
		return warperrors.CASConflict(name, expectedSha, "injected-conflict")
	}

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

func sampleTick(writer, sha string, lamport uint64) reducer.TickReceipt {
	return reducer.TickReceipt{
		PatchSha: sha,
		Writer:   writer,
		Lamport:  lamport,
		Ops:      sampleOps(),
	}
}

func TestRecordTickCreatesGenesisReceipt(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	svc := New(store, fakeCrypto{}, "g1", "alice")

	err := svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-1")), 1))
	require.NoError(t, err)

	stats := svc.GetStats()
	assert.Equal(t, 1, stats.Committed)
	assert.Equal(t, 0, stats.Failed)

	tip, found, err := store.ReadRef(ctx, refs.AuditRef("g1", "alice"))
	require.NoError(t, err)
	require.True(t, found)

	info, err := store.GetNodeInfo(ctx, tip)
	require.NoError(t, err)
	tr, err := trailer.ParseAuditTrailers(info.Message)
	require.NoError(t, err)
	assert.Equal(t, "alice", tr.Writer)
	assert.Equal(t, "g1", tr.Graph)

	entries, err := store.ReadTreeOids(ctx, info.Tree)
	require.NoError(t, err)
	blobOid, ok := entries[receiptBlobEntry]
	require.True(t, ok)
	blob, err := store.ReadBlob(ctx, blobOid)
	require.NoError(t, err)
	rec, err := DecodeReceipt(blob)
	require.NoError(t, err)
	assert.True(t, IsZeroHash(rec.PrevAuditCommit))
}

func TestRecordTickChainsOntoPreviousReceipt(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	svc := New(store, fakeCrypto{}, "g1", "alice")

	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-1")), 1)))
	firstTip, _, _ := store.ReadRef(ctx, refs.AuditRef("g1", "alice"))

	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-2")), 2)))
	secondTip, _, _ := store.ReadRef(ctx, refs.AuditRef("g1", "alice"))
	assert.NotEqual(t, firstTip, secondTip)

	info, err := store.GetNodeInfo(ctx, secondTip)
	require.NoError(t, err)
	assert.Equal(t, []string{firstTip}, info.Parents)

	entries, err := store.ReadTreeOids(ctx, info.Tree)
	require.NoError(t, err)
	blob, err := store.ReadBlob(ctx, entries[receiptBlobEntry])
	require.NoError(t, err)
	rec, err := DecodeReceipt(blob)
	require.NoError(t, err)
	assert.Equal(t, firstTip, rec.PrevAuditCommit)

	stats := svc.GetStats()
	assert.Equal(t, 2, stats.Committed)
}

func TestRecordTickRejectsCrossWriterReceipt(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	svc := New(store, fakeCrypto{}, "g1", "alice")

	err := svc.RecordTick(ctx, sampleTick("bob", hashOf([]byte("patch-1")), 1))
	require.Error(t, err)
	assert.Equal(t, warperrors.InvalidArgument, warperrors.GetKind(err))

	stats := svc.GetStats()
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Committed)
}

func TestRecordTickEntersDegradedStateAfterRepeatedCASConflicts(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	store.matchRef = refs.AuditRef("g1", "alice")
	store.casFailures = 2
	svc := New(store, fakeCrypto{}, "g1", "alice")

	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-1")), 1)))
	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-2")), 2)))
	assert.True(t, svc.Degraded())

	stats := svc.GetStats()
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Committed)
}

func TestRecordTickSkipsFurtherCommitsOnceDegraded(t *testing.T) {
	ctx := context.Background()
	store := newFakePersistence()
	store.matchRef = refs.AuditRef("g1", "alice")
	store.casFailures = 2
	svc := New(store, fakeCrypto{}, "g1", "alice")

	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-1")), 1)))
	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-2")), 2)))
	require.True(t, svc.Degraded())

	require.NoError(t, svc.RecordTick(ctx, sampleTick("alice", hashOf([]byte("patch-3")), 3)))
	stats := svc.GetStats()
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Committed)

	_, found, err := store.ReadRef(ctx, refs.AuditRef("g1", "alice"))
	require.NoError(t, err)
	assert.False(t, found, "no receipt should ever have committed under constant CAS conflict")
}
