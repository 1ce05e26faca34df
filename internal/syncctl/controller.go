// Package syncctl implements the sync controller: frontier exchange, sync
// request/response framing, and retrying delta transfer between two git-warp
// peers.
package syncctl

import (
	"context"

	"github.com/git-stunts/git-warp/internal/materializer"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
)

// Result is the outcome of folding a sync response into cached state.
type Result struct {
	State   *reducer.WarpState
	Applied int
}

// Controller drives sync for one graph, backed by the same persistence and
// materializer the rest of the graph façade uses.
type Controller struct {
	persistence port.Persistence
	transport   port.HttpServer
	graph       string
	mat         *materializer.Materializer
}

// New returns a Controller for graph. transport may be nil if the caller
// only intends to use ProcessSyncRequest/ApplySyncResponse directly (e.g. in
// tests, or behind a caller-owned transport) rather than SyncWith.
func New(persistence port.Persistence, transport port.HttpServer, graph string, mat *materializer.Materializer) *Controller {
	return &Controller{persistence: persistence, transport: transport, graph: graph, mat: mat}
}

// GetFrontier returns writerId -> tipSha for every writer chain in the graph.
func (c *Controller) GetFrontier(ctx context.Context) (materializer.Frontier, error) {
	return materializer.GetFrontier(ctx, c.persistence, c.graph)
}

// CreateSyncRequest serializes the local frontier as a sync-request body.
func (c *Controller) CreateSyncRequest(ctx context.Context) ([]byte, error) {
	frontier, err := c.GetFrontier(ctx)
	if err != nil {
		return nil, err
	}
	return marshalRequest(wireRequest{Type: typeSyncRequest, RequestID: newRequestID(), Frontier: frontier})
}

// ProcessSyncRequest answers a peer's sync-request with every patch it is
// missing: for each local writer whose tip the peer doesn't know, or knows
// an older SHA for, walk the local chain down to the peer's tip (or root)
// and include those patches. Writers absent from the peer's frontier are
// included in full.
func (c *Controller) ProcessSyncRequest(ctx context.Context, requestBody []byte) ([]byte, error) {
	req, err := unmarshalRequest(requestBody)
	if err != nil {
		return nil, err
	}

	localFrontier, err := c.GetFrontier(ctx)
	if err != nil {
		return nil, err
	}

	var envelopes []wirePatchEnvelope
	for _, writer := range localFrontier.Writers() {
		tip := localFrontier[writer]
		since, known := req.Frontier[writer]
		if known && since == tip {
			continue
		}
		if !known {
			since = ""
		}
		patches, err := walkWriterChain(ctx, c.persistence, tip, since)
		if err != nil {
			return nil, err
		}
		for _, pw := range patches {
			env, err := encodeEnvelope(writer, pw.Sha, pw.Patch)
			if err != nil {
				return nil, err
			}
			envelopes = append(envelopes, env)
		}
	}

	return marshalResponse(wireResponse{
		Type:      typeSyncResponse,
		RequestID: req.RequestID,
		Frontier:  localFrontier,
		Patches:   envelopes,
	})
}

// ApplySyncResponse folds a sync-response's patches into the materializer's
// cached state. Requires that the caller
// has already materialized at least once; otherwise raises E_NO_STATE.
func (c *Controller) ApplySyncResponse(ctx context.Context, responseBody []byte) (*Result, error) {
	if _, err := c.mat.RequireCached(); err != nil {
		return nil, err
	}

	resp, err := unmarshalResponse(responseBody)
	if err != nil {
		return nil, err
	}

	patches := make([]reducer.PatchWithSha, 0, len(resp.Patches))
	for _, env := range resp.Patches {
		sha, p, err := decodeEnvelope(env)
		if err != nil {
			return nil, err
		}
		patches = append(patches, reducer.PatchWithSha{Patch: p, Sha: sha})
	}

	state, applied, err := c.mat.ApplyExternal(ctx, patches)
	if err != nil {
		return nil, err
	}
	return &Result{State: state, Applied: applied}, nil
}

// HasFrontierChanged reports whether the graph's current frontier differs
// from the frontier observed at the last Materialize call.
func (c *Controller) HasFrontierChanged(ctx context.Context) (bool, error) {
	return c.mat.HasFrontierChanged(ctx)
}

// Status reports the underlying materializer's cache state without
// triggering a materialization.
func (c *Controller) Status(ctx context.Context) (materializer.Status, error) {
	return c.mat.Status(ctx)
}

func walkWriterChain(ctx context.Context, persistence port.Persistence, tip, sinceSha string) ([]reducer.PatchWithSha, error) {
	return materializer.WalkChain(ctx, persistence, tip, sinceSha)
}
