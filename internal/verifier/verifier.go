// Package verifier implements the Audit Verifier: a tip-to-genesis walk
// over one writer's audit chain that checks every receipt's internal
// consistency and its linkage to its neighbors.
package verifier

import (
	"context"
	"fmt"

	"github.com/git-stunts/git-warp/internal/audit"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/refs"
	"github.com/git-stunts/git-warp/internal/trailer"
)

// Status is a chain's aggregate verification verdict.
type Status string

const (
	StatusValid        Status = "VALID"
	StatusPartial      Status = "PARTIAL"
	StatusBrokenChain  Status = "BROKEN_CHAIN"
	StatusDataMismatch Status = "DATA_MISMATCH"
	StatusError        Status = "ERROR"
)

// Code names the specific check that failed, independent of the chain-level
// Status it rolls up into.
type Code string

const (
	CodeReceiptSchemaInvalid  Code = "RECEIPT_SCHEMA_INVALID"
	CodeOIDLengthMismatch     Code = "OID_LENGTH_MISMATCH"
	CodeOIDMalformed          Code = "OID_MALFORMED"
	CodeTrailerMismatch       Code = "TRAILER_MISMATCH"
	CodeGitParentMismatch     Code = "GIT_PARENT_MISMATCH"
	CodeContinuationNoParent  Code = "CONTINUATION_NO_PARENT"
	CodeGenesisHasParents     Code = "GENESIS_HAS_PARENTS"
	CodeTickMonotonicity      Code = "TICK_MONOTONICITY"
	CodeTickGap               Code = "TICK_GAP"
	CodeWriterGraphMismatch   Code = "WRITER_GRAPH_MISMATCH"
	CodeUnreadableCommit      Code = "UNREADABLE_COMMIT"
	CodeSinceNotFound         Code = "SINCE_NOT_FOUND"
	CodeTipMovedDuringVerify  Code = "TIP_MOVED_DURING_VERIFY"
)

// Issue is one finding at a specific commit in the chain.
type Issue struct {
	Commit string
	Code   Code
	Detail string
}

// ChainResult is the outcome of walking one writer's audit chain.
type ChainResult struct {
	Graph          string
	Writer         string
	Status         Status
	Errors         []Issue
	Warnings       []Issue
	ReceiptsWalked int
	// StoppedAt is the sha the walk reached before stopping, either genesis
	// or the caller-supplied since boundary.
	StoppedAt string
}

func isHexOID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// VerifyChain walks graph's writer's audit chain from its current tip
// backward to since (exclusive), or to genesis when since is "". It never
// mutates anything; every check is read-only against the persistence port.
func VerifyChain(ctx context.Context, persistence port.Persistence, graph, writer, since string) ChainResult {
	result := ChainResult{Graph: graph, Writer: writer}

	auditRef := refs.AuditRef(graph, writer)
	tip, found, err := persistence.ReadRef(ctx, auditRef)
	if err != nil {
		result.Status = StatusError
		result.Errors = append(result.Errors, Issue{Code: CodeUnreadableCommit, Detail: err.Error()})
		return result
	}
	if !found {
		result.Status = StatusValid
		return result
	}

	sha := tip
	var prevTickStart uint64
	haveSeenPrevTick := false

	for sha != "" && sha != since {
		info, err := persistence.GetNodeInfo(ctx, sha)
		if err != nil {
			result.Status = StatusError
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeUnreadableCommit, Detail: err.Error()})
			return result
		}

		entries, err := persistence.ReadTreeOids(ctx, info.Tree)
		if err != nil {
			result.Status = StatusError
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeUnreadableCommit, Detail: err.Error()})
			return result
		}
		blobOid, ok := entries["receipt.cbor"]
		if !ok {
			result.Status = StatusError
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeUnreadableCommit, Detail: "missing receipt.cbor entry"})
			return result
		}
		blob, err := persistence.ReadBlob(ctx, blobOid)
		if err != nil {
			result.Status = StatusError
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeUnreadableCommit, Detail: err.Error()})
			return result
		}

		rec, decodeErr := audit.DecodeReceipt(blob)
		if decodeErr != nil {
			result.Status = StatusBrokenChain
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeReceiptSchemaInvalid, Detail: decodeErr.Error()})
			return result
		}

		if !isHexOID(rec.DataCommit) {
			result.Status = StatusBrokenChain
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeOIDMalformed, Detail: "dataCommit is not a valid OID"})
			return result
		}
		if !audit.IsZeroHash(rec.PrevAuditCommit) && len(rec.PrevAuditCommit) != len(rec.DataCommit) {
			result.Status = StatusBrokenChain
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeOIDLengthMismatch, Detail: "prevAuditCommit length disagrees with dataCommit length"})
			return result
		}

		trailers, trailerErr := trailer.ParseAuditTrailers(info.Message)
		if trailerErr != nil {
			result.Status = StatusDataMismatch
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeTrailerMismatch, Detail: trailerErr.Error()})
			return result
		}
		if mismatch := mismatchedField(trailers, rec, graph, writer); mismatch != "" {
			result.Status = StatusDataMismatch
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeTrailerMismatch, Detail: mismatch})
			return result
		}

		isGenesis := len(info.Parents) == 0
		if isGenesis {
			if !audit.IsZeroHash(rec.PrevAuditCommit) {
				result.Status = StatusBrokenChain
				result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeGenesisHasParents, Detail: "non-zero prevAuditCommit on a commit with no Git parent"})
				return result
			}
		} else {
			if rec.PrevAuditCommit != info.Parents[0] {
				result.Status = StatusBrokenChain
				result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeGitParentMismatch, Detail: fmt.Sprintf("receipt prevAuditCommit %s != git parent %s", rec.PrevAuditCommit, info.Parents[0])})
				return result
			}
		}
		if audit.IsZeroHash(rec.PrevAuditCommit) && !isGenesis {
			result.Status = StatusBrokenChain
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeContinuationNoParent, Detail: "non-genesis commit carries a zero-hash prevAuditCommit"})
			return result
		}

		if rec.WriterId != writer || rec.GraphName != graph {
			result.Status = StatusBrokenChain
			result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeWriterGraphMismatch, Detail: fmt.Sprintf("receipt claims writer=%s graph=%s", rec.WriterId, rec.GraphName)})
			return result
		}

		if haveSeenPrevTick {
			if rec.TickEnd >= prevTickStart {
				result.Status = StatusBrokenChain
				result.Errors = append(result.Errors, Issue{Commit: sha, Code: CodeTickMonotonicity, Detail: fmt.Sprintf("tickEnd %d not strictly less than previously-seen tickStart %d", rec.TickEnd, prevTickStart)})
				return result
			}
			if prevTickStart-rec.TickEnd > 1 {
				result.Warnings = append(result.Warnings, Issue{Commit: sha, Code: CodeTickGap, Detail: fmt.Sprintf("gap between tickEnd %d and previous tickStart %d", rec.TickEnd, prevTickStart)})
			}
		}
		prevTickStart = rec.TickStart
		haveSeenPrevTick = true

		result.ReceiptsWalked++

		if isGenesis {
			result.StoppedAt = sha
			break
		}
		sha = info.Parents[0]
	}

	if since != "" && sha != since {
		result.Status = StatusError
		result.Errors = append(result.Errors, Issue{Code: CodeSinceNotFound, Detail: fmt.Sprintf("walk reached genesis without finding since=%s", since)})
		return result
	}
	if result.StoppedAt == "" {
		result.StoppedAt = sha
	}

	if len(result.Errors) == 0 {
		if since != "" {
			result.Status = StatusPartial
		} else {
			result.Status = StatusValid
		}
	}

	currentTip, _, err := persistence.ReadRef(ctx, auditRef)
	if err == nil && currentTip != tip {
		result.Warnings = append(result.Warnings, Issue{Code: CodeTipMovedDuringVerify, Detail: fmt.Sprintf("tip moved from %s to %s during verification", tip, currentTip)})
	}

	return result
}

func mismatchedField(t trailer.AuditTrailers, rec audit.Receipt, graph, writer string) string {
	if t.Graph != rec.GraphName {
		return fmt.Sprintf("trailer graph %q != receipt graphName %q", t.Graph, rec.GraphName)
	}
	if t.Writer != rec.WriterId {
		return fmt.Sprintf("trailer writer %q != receipt writerId %q", t.Writer, rec.WriterId)
	}
	if t.DataCommit != rec.DataCommit {
		return fmt.Sprintf("trailer eg-data-commit %q != receipt dataCommit %q", t.DataCommit, rec.DataCommit)
	}
	if t.OpsDigest != rec.OpsDigest {
		return fmt.Sprintf("trailer eg-ops-digest %q != receipt opsDigest %q", t.OpsDigest, rec.OpsDigest)
	}
	if t.Schema != rec.Version {
		return fmt.Sprintf("trailer eg-schema %d != receipt version %d", t.Schema, rec.Version)
	}
	return ""
}
