// Package audit implements the Audit Receipt Service: a best-effort,
// tamper-evident log of tick outcomes chained per writer.
package audit

import (
	"context"
	"fmt"
	"sync"

	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/logging"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/refs"
	"github.com/git-stunts/git-warp/internal/trailer"
)

const receiptBlobEntry = "receipt.cbor"

// maxConsecutiveCASConflicts is the threshold past which the service enters
// a degraded state and stops attempting commits.
const maxConsecutiveCASConflicts = 2

// Stats is the audit service's observability surface.
type Stats struct {
	Committed int
	Failed    int
	Skipped   int
}

// Service chains one writer's audit receipts. It is best-effort: failures
// never propagate to the data-commit caller,
// only accumulate in Stats and, past a conflict threshold, suspend further
// commit attempts.
type Service struct {
	persistence port.Persistence
	crypto      port.Crypto
	graph       string
	writer      string

	mu                      sync.Mutex
	consecutiveCASConflicts int
	degraded                bool
	stats                   Stats
}

// New returns an audit Service for (graph, writer). Commits it makes only
// ever land on that writer's own audit chain.
func New(persistence port.Persistence, crypto port.Crypto, graph, writer string) *Service {
	return &Service{persistence: persistence, crypto: crypto, graph: graph, writer: writer}
}

// GetStats returns a snapshot of the service's counters.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Degraded reports whether the service has stopped attempting commits after
// repeated CAS conflicts.
func (s *Service) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// RecordTick commits one audit receipt for receipt, chained onto the
// service's writer. Returns an error only
// for the cross-writer guard, a programming error the caller should not
// swallow; all other failures are absorbed into Stats per the best-effort
// contract and reported via a nil error.
func (s *Service) RecordTick(ctx context.Context, receipt reducer.TickReceipt) error {
	if receipt.Writer != s.writer {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return warperrors.InvalidArgumentf("audit: receipt writer %q does not match service writer %q", receipt.Writer, s.writer)
	}

	s.mu.Lock()
	if s.degraded {
		s.stats.Skipped++
		s.mu.Unlock()
		logging.Warn("audit service skipping tick, degraded state", "graph", s.graph, "writer", s.writer, "code", "AUDIT_DEGRADED_SKIP")
		return nil
	}
	s.mu.Unlock()

	if err := s.commit(ctx, receipt); err != nil {
		s.mu.Lock()
		s.stats.Failed++
		if warperrors.Is(err, warperrors.WriterCASConflict) {
			s.consecutiveCASConflicts++
			if s.consecutiveCASConflicts >= maxConsecutiveCASConflicts {
				s.degraded = true
				logging.Warn("audit service entering degraded state", "graph", s.graph, "writer", s.writer, "consecutive_cas_conflicts", s.consecutiveCASConflicts)
			}
		}
		s.mu.Unlock()
		logging.Warn("audit commit failed", "graph", s.graph, "writer", s.writer, "error", err.Error())
		return nil
	}

	s.mu.Lock()
	s.consecutiveCASConflicts = 0
	s.stats.Committed++
	s.mu.Unlock()
	return nil
}

func (s *Service) commit(ctx context.Context, receipt reducer.TickReceipt) error {
	auditRef := refs.AuditRef(s.graph, s.writer)
	tip, found, err := s.persistence.ReadRef(ctx, auditRef)
	if err != nil {
		return fmt.Errorf("audit: read tip: %w", err)
	}

	digest, err := OpsDigest(s.crypto, receipt.Ops)
	if err != nil {
		return fmt.Errorf("audit: compute ops digest: %w", err)
	}
	opsDigestHex := fmt.Sprintf("%x", digest)

	prev := ZeroHash(len(receipt.PatchSha))
	var parents []string
	if found {
		prev = tip
		parents = []string{tip}
	}

	rec := Receipt{
		DataCommit:      receipt.PatchSha,
		GraphName:       s.graph,
		OpsDigest:       opsDigestHex,
		PrevAuditCommit: prev,
		TickEnd:         receipt.Lamport,
		TickStart:       receipt.Lamport,
		Timestamp:       nowMillis(),
		Version:         Version,
		WriterId:        s.writer,
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("audit: built invalid receipt: %w", err)
	}

	blob, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("audit: encode receipt: %w", err)
	}
	blobOid, err := s.persistence.WriteBlob(ctx, blob)
	if err != nil {
		return warperrors.WrapPersistWriteFailed(err, "audit: write receipt blob")
	}
	treeOid, err := s.persistence.WriteTree(ctx, map[string]string{receiptBlobEntry: blobOid})
	if err != nil {
		return warperrors.WrapPersistWriteFailed(err, "audit: write receipt tree")
	}

	trailers := trailer.AuditTrailers{
		Schema:     Version,
		Graph:      s.graph,
		Writer:     s.writer,
		DataCommit: rec.DataCommit,
		OpsDigest:  rec.OpsDigest,
	}
	message := trailers.Format(fmt.Sprintf("audit: %s tick %d", s.writer, receipt.Lamport))

	sha, err := s.persistence.CommitNodeWithTree(ctx, treeOid, parents, message)
	if err != nil {
		return warperrors.WrapPersistWriteFailed(err, "audit: commit receipt")
	}

	expected := ""
	if found {
		expected = tip
	}
	if err := s.persistence.CompareAndSwapRef(ctx, auditRef, sha, expected); err != nil {
		return err
	}
	return nil
}
