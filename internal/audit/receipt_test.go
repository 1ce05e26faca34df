package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt() Receipt {
	return Receipt{
		DataCommit:      "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2",
		GraphName:       "g1",
		OpsDigest:       "deadbeef",
		PrevAuditCommit: ZeroHash(64),
		TickEnd:         5,
		TickStart:       5,
		Timestamp:       1700000000000,
		Version:         Version,
		WriterId:        "alice",
	}
}

func TestReceiptEncodeDecodeRoundTrips(t *testing.T) {
	rec := sampleReceipt()
	blob, err := rec.Encode()
	require.NoError(t, err)

	decoded, err := DecodeReceipt(blob)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestReceiptEncodeIsDeterministic(t *testing.T) {
	rec := sampleReceipt()
	a, err := rec.Encode()
	require.NoError(t, err)
	b, err := rec.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestZeroHashHelpers(t *testing.T) {
	assert.True(t, IsZeroHash(ZeroHash(40)))
	assert.True(t, IsZeroHash(ZeroHash(64)))
	assert.False(t, IsZeroHash("a1b2"))
	assert.False(t, IsZeroHash(""))
}

func TestReceiptValidateRejectsBadVersion(t *testing.T) {
	rec := sampleReceipt()
	rec.Version = 2
	assert.Error(t, rec.Validate())
}

func TestReceiptValidateRejectsMismatchedTickBounds(t *testing.T) {
	rec := sampleReceipt()
	rec.TickEnd = rec.TickStart + 1
	assert.Error(t, rec.Validate())
}

func TestReceiptValidateRejectsBadOidLength(t *testing.T) {
	rec := sampleReceipt()
	rec.DataCommit = "short"
	assert.Error(t, rec.Validate())
}

func TestReceiptValidateRejectsMismatchedPrevLength(t *testing.T) {
	rec := sampleReceipt()
	rec.PrevAuditCommit = "a1b2c3"
	assert.Error(t, rec.Validate())
}

func TestReceiptValidateAcceptsGenesis(t *testing.T) {
	rec := sampleReceipt()
	rec.PrevAuditCommit = ZeroHash(len(rec.DataCommit))
	assert.NoError(t, rec.Validate())
}

func TestReceiptValidateRejectsMissingIdentity(t *testing.T) {
	rec := sampleReceipt()
	rec.GraphName = ""
	assert.Error(t, rec.Validate())

	rec = sampleReceipt()
	rec.WriterId = ""
	assert.Error(t, rec.Validate())
}
