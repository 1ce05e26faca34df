package audit

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Version is the only receipt schema version git-warp emits.
const Version = 1

// Receipt is the nine-field audit record for one tick (one patch, in v1).
// Encode writes the fields in declaration order without re-sorting them, so
// the order below is the CBOR key order: dataCommit, graphName, opsDigest,
// prevAuditCommit, tickEnd, tickStart, timestamp, version, writerId, which
// is plain ASCII ascending.
type Receipt struct {
	DataCommit      string `cbor:"dataCommit"`
	GraphName       string `cbor:"graphName"`
	OpsDigest       string `cbor:"opsDigest"`
	PrevAuditCommit string `cbor:"prevAuditCommit"`
	TickEnd         uint64 `cbor:"tickEnd"`
	TickStart       uint64 `cbor:"tickStart"`
	Timestamp       int64  `cbor:"timestamp"`
	Version         int    `cbor:"version"`
	WriterId        string `cbor:"writerId"`
}

// ZeroHash returns the all-zero sentinel used for a genesis receipt's
// prevAuditCommit, the same length as oidLen.
func ZeroHash(oidLen int) string {
	return strings.Repeat("0", oidLen)
}

// IsZeroHash reports whether s is an all-zero sentinel of any valid OID length.
func IsZeroHash(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	return strings.Count(s, "0") == len(s)
}

// Encode produces the canonical CBOR blob for r, keys in struct declaration
// order.
func (r Receipt) Encode() ([]byte, error) {
	em, err := cbor.EncOptions{}.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(r)
}

// DecodeReceipt parses a canonical CBOR receipt blob produced by Encode, and
// validates the schema invariants step 2 requires.
func DecodeReceipt(data []byte) (Receipt, error) {
	var r Receipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Receipt{}, fmt.Errorf("audit: decode receipt: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

// Validate checks the invariants the schema places on a receipt's fields,
// independent of its position in a chain.
func (r Receipt) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("audit: unsupported receipt version %d", r.Version)
	}
	if r.TickStart != r.TickEnd {
		return fmt.Errorf("audit: tickStart %d != tickEnd %d in v1", r.TickStart, r.TickEnd)
	}
	if len(r.DataCommit) != 40 && len(r.DataCommit) != 64 {
		return fmt.Errorf("audit: dataCommit has invalid OID length %d", len(r.DataCommit))
	}
	if !IsZeroHash(r.PrevAuditCommit) && len(r.PrevAuditCommit) != len(r.DataCommit) {
		return fmt.Errorf("audit: prevAuditCommit length %d != dataCommit length %d", len(r.PrevAuditCommit), len(r.DataCommit))
	}
	if r.Timestamp < 0 {
		return fmt.Errorf("audit: negative timestamp %d", r.Timestamp)
	}
	if r.GraphName == "" || r.WriterId == "" {
		return fmt.Errorf("audit: receipt missing graphName or writerId")
	}
	return nil
}
