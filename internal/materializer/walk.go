package materializer

import (
	"context"
	"fmt"

	"github.com/git-stunts/git-warp/internal/patch"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
	"github.com/git-stunts/git-warp/internal/trailer"
)

// WalkChain walks a writer's chain from tip toward root, collecting every
// patch strictly after sinceSha (exclusive). sinceSha == "" walks to genesis.
// Writer chains are linear (single parent), matching. Exported for the sync controller's
// processSyncRequest, which needs the same delta-walk the materializer uses
// internally.
func WalkChain(ctx context.Context, persistence port.Persistence, tip, sinceSha string) ([]reducer.PatchWithSha, error) {
	var collected []reducer.PatchWithSha

	sha := tip
	for sha != "" && sha != sinceSha {
		info, err := persistence.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, fmt.Errorf("materializer: read commit %s: %w", sha, err)
		}
		trailers, err := trailer.ParsePatchTrailers(info.Message)
		if err != nil {
			return nil, fmt.Errorf("materializer: parse trailers at %s: %w", sha, err)
		}

		entries, err := persistence.ReadTreeOids(ctx, info.Tree)
		if err != nil {
			return nil, fmt.Errorf("materializer: read tree at %s: %w", sha, err)
		}
		blobOid, ok := entries["patch.cbor"]
		if !ok {
			blobOid = trailers.PatchOid
		}
		blob, err := persistence.ReadBlob(ctx, blobOid)
		if err != nil {
			return nil, fmt.Errorf("materializer: read patch blob at %s: %w", sha, err)
		}
		p, err := patch.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("materializer: decode patch at %s: %w", sha, err)
		}

		collected = append(collected, reducer.PatchWithSha{Patch: p, Sha: sha})

		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}

	// collected is tip-to-root; reverse it so callers see root-to-tip order,
	// matching the order a writer actually committed them in.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}
