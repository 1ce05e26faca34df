package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-stunts/git-warp/internal/crdt"
	"github.com/git-stunts/git-warp/internal/reducer"
)

// fakeCrypto is a stdlib-backed port.Crypto double, good enough for hashing
// and signature tests without pulling in a production adapter.
type fakeCrypto struct{}

func (fakeCrypto) SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (fakeCrypto) HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (fakeCrypto) ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func sampleOps() []reducer.OpRecord {
	return []reducer.OpRecord{
		{Op: "nodeAdd", Target: "user:b", Result: crdt.ResultApplied},
		{Op: "nodeAdd", Target: "user:a", Result: crdt.ResultApplied},
		{Op: "edgeAdd", Target: "user:a->user:b", Result: crdt.ResultRedundant, Reason: "dot already live"},
	}
}

func TestCanonicalOpsJSONIsKeySorted(t *testing.T) {
	data, err := CanonicalOpsJSON(sampleOps())
	require.NoError(t, err)

	got := string(data)
	assert.Contains(t, got, `{"op":"nodeAdd","result":"applied","target":"user:b"}`)
	assert.Contains(t, got, `"reason":"dot already live"`)

	idxOp := indexOf(got, `"op"`)
	idxResult := indexOf(got, `"result"`)
	idxTarget := indexOf(got, `"target"`)
	assert.True(t, idxOp < idxResult && idxResult < idxTarget, "keys must sort op < result < target")
}

func TestCanonicalOpsJSONPreservesArrayOrder(t *testing.T) {
	ops := sampleOps()
	data, err := CanonicalOpsJSON(ops)
	require.NoError(t, err)

	got := string(data)
	posB := indexOf(got, "user:b")
	posA := indexOf(got, "user:a")
	assert.True(t, posB < posA, "array element order must match input order, not be key-sorted")
}

func TestCanonicalOpsJSONIsDeterministic(t *testing.T) {
	ops := sampleOps()
	first, err := CanonicalOpsJSON(ops)
	require.NoError(t, err)
	second, err := CanonicalOpsJSON(ops)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOpsDigestBindsToDomainSeparator(t *testing.T) {
	ops := sampleOps()
	crypto := fakeCrypto{}

	digest, err := OpsDigest(crypto, ops)
	require.NoError(t, err)
	assert.Len(t, digest, 32)

	canonical, err := CanonicalOpsJSON(ops)
	require.NoError(t, err)
	bare := crypto.SHA256(canonical)
	assert.NotEqual(t, bare, digest, "digest must bind the domain separator, not hash raw canonical JSON")
}

// TestOpsDigestReferenceVector pins the exact canonical encoding and digest
// for a fixed two-op vector (a NodeAdd followed by a PropSet whose key
// embeds a raw NUL byte), so a change to key sorting, op naming, or the
// domain separator is caught as a byte-for-byte regression rather than
// surfacing only as "digest changed".
func TestOpsDigestReferenceVector(t *testing.T) {
	ops := []reducer.OpRecord{
		{Op: "NodeAdd", Target: "user:alice", Result: crdt.ResultApplied},
		{Op: "PropSet", Target: "user:alice\x00name", Result: crdt.ResultApplied},
	}

	canonical, err := CanonicalOpsJSON(ops)
	require.NoError(t, err)
	const wantCanonicalHex = "5b7b226f70223a224e6f6465416464222c22726573756c74223a226170706c696564222c22746172676574223a22757365723a616c696365227d2c7b226f70223a2250726f70536574222c22726573756c74223a226170706c696564222c22746172676574223a22757365723a616c6963655c75303030306e616d65227d5d"
	assert.Equal(t, wantCanonicalHex, fmt.Sprintf("%x", canonical))

	digest, err := OpsDigest(fakeCrypto{}, ops)
	require.NoError(t, err)
	const wantDigestHex = "63df7eaa05e5dc38b436ffd562dad96d2175c7fa089fec6df8bb78bdc389b8fe"
	assert.Equal(t, wantDigestHex, fmt.Sprintf("%x", digest))
}

func TestOpsDigestChangesWithOps(t *testing.T) {
	crypto := fakeCrypto{}
	d1, err := OpsDigest(crypto, sampleOps())
	require.NoError(t, err)

	other := append([]reducer.OpRecord{}, sampleOps()...)
	other[0].Result = crdt.ResultSuperseded
	d2, err := OpsDigest(crypto, other)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
