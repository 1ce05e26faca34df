// Package graph assembles persistence, materialization, sync, audit, and
// verification into a single handle per graph, so callers (the CLI, an
// embedding service) don't have to wire five packages by hand. It is a
// plain composition root, not a new abstraction: every method delegates
// straight to the package that actually does the work.
package graph

import (
	"context"
	"sync"

	"github.com/git-stunts/git-warp/internal/audit"
	"github.com/git-stunts/git-warp/internal/builder"
	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/logging"
	"github.com/git-stunts/git-warp/internal/materializer"
	"github.com/git-stunts/git-warp/internal/patch"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/provenance"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/syncctl"
	"github.com/git-stunts/git-warp/internal/verifier"
)

// Facade owns one graph's materializer, sync controller, and audit service,
// all sharing the same persistence backend and writer identity.
type Facade struct {
	persistence  port.Persistence
	crypto       port.Crypto
	graph        string
	writer       string
	deletePolicy builder.DeletePolicy

	mat   *materializer.Materializer
	sync  *syncctl.Controller
	audit *audit.Service

	// durableProv, if set, mirrors provenance records that the
	// materializer's in-process MemoryStore already indexes into a
	// durable store (sqlstore) for cross-process queries. Best effort:
	// a failure here never fails the commit that produced the record.
	durableProv provenance.Store

	mu        sync.Mutex
	committing bool
}

// New builds a Facade for graph, writing as writer. durableProv may be nil
// if the caller has no durable provenance backend configured.
func New(
	persistence port.Persistence,
	crypto port.Crypto,
	transport port.HttpServer,
	graph, writer string,
	deletePolicy builder.DeletePolicy,
	policy materializer.CheckpointPolicy,
	durableProv provenance.Store,
) *Facade {
	mat := materializer.New(persistence, graph, nil, policy)
	return &Facade{
		persistence:  persistence,
		crypto:       crypto,
		graph:        graph,
		writer:       writer,
		deletePolicy: deletePolicy,
		mat:          mat,
		sync:         syncctl.New(persistence, transport, graph, mat),
		audit:        audit.New(persistence, crypto, graph, writer),
		durableProv:  durableProv,
	}
}

// Materializer exposes the graph's materialization pipeline directly, for
// callers that need Status, Subscribe, or a ceiling-bounded read.
func (f *Facade) Materializer() *materializer.Materializer { return f.mat }

// Sync exposes the graph's sync controller directly.
func (f *Facade) Sync() *syncctl.Controller { return f.sync }

// Audit exposes the graph's audit service directly.
func (f *Facade) Audit() *audit.Service { return f.audit }

// Graph returns the graph name this facade was built for.
func (f *Facade) Graph() string { return f.graph }

// Writer returns the writer identity this facade commits as.
func (f *Facade) Writer() string { return f.writer }

// CommitPatch materializes the current state, lets build accumulate ops on
// a fresh Builder, commits the resulting patch via CAS, folds it eagerly
// into the cached state, and records an audit tick for it. Only one commit
// may be in flight per facade at a time; a concurrent call is rejected
// rather than queued.
func (f *Facade) CommitPatch(ctx context.Context, build func(b *builder.Builder) error) (string, *patch.Patch, error) {
	f.mu.Lock()
	if f.committing {
		f.mu.Unlock()
		return "", nil, warperrors.New(warperrors.CommitInProgress, warperrors.SeverityLow,
			"graph: a commit is already in progress for this writer")
	}
	f.committing = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.committing = false
		f.mu.Unlock()
	}()

	state, err := f.mat.Materialize(ctx, materializer.Options{})
	if err != nil {
		return "", nil, err
	}

	b, err := builder.New(ctx, f.persistence, f.graph, f.writer, state, f.deletePolicy, nil)
	if err != nil {
		return "", nil, err
	}
	if err := build(b); err != nil {
		return "", nil, err
	}

	sha, committed, err := b.Commit(ctx)
	if err != nil {
		return "", nil, err
	}

	pw := reducer.PatchWithSha{Patch: committed, Sha: sha}
	receipt, ok, err := f.mat.ApplyLocalCommit(ctx, pw)
	if err != nil {
		logging.Warn("graph: fold local commit into cache failed", "graph", f.graph, "writer", f.writer, "sha", sha, "error", err.Error())
	} else if ok {
		if err := f.audit.RecordTick(ctx, receipt); err != nil {
			logging.Warn("graph: audit record failed", "graph", f.graph, "writer", f.writer, "sha", sha, "error", err.Error())
		}
	} else {
		logging.Warn("graph: no cached state at commit time, audit receipt dropped", "graph", f.graph, "writer", f.writer, "sha", sha, "code", "eg-audit-skip-dirty")
	}

	if f.durableProv != nil {
		if err := f.durableProv.Record(ctx, sha, committed.Reads, committed.Writes); err != nil {
			logging.Warn("graph: durable provenance record failed", "graph", f.graph, "writer", f.writer, "sha", sha, "error", err.Error())
		}
	}

	return sha, committed, nil
}

// VerifyAudit walks every writer's audit chain in this graph and returns
// the aggregated tamper-evidence verdict.
func (f *Facade) VerifyAudit(ctx context.Context) (verifier.AllResult, error) {
	return verifier.VerifyAll(ctx, f.persistence, f.graph)
}

// VerifyWriterAudit walks a single writer's audit chain since the given
// commit (or from genesis if since is empty).
func (f *Facade) VerifyWriterAudit(ctx context.Context, writer, since string) verifier.ChainResult {
	return verifier.VerifyChain(ctx, f.persistence, f.graph, writer, since)
}
