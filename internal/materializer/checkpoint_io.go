package materializer

import (
	"context"
	"fmt"

	"github.com/git-stunts/git-warp/internal/checkpoint"
	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/refs"
)

const checkpointBlobEntry = "checkpoint.cbor"

// loadCheckpoint reads the graph's checkpoint ref, if any, and decodes the
// blob it names. A checkpoint ref points directly at a tree whose single
// entry is the checkpoint blob; no commit wrapping is needed since
// checkpoints are a local acceleration cache, not a coordination point.
func loadCheckpoint(ctx context.Context, persistence port.Persistence, graph string) (*checkpoint.Checkpoint, bool, error) {
	ref := refs.CheckpointRef(graph)
	treeOid, found, err := persistence.ReadRef(ctx, ref)
	if err != nil {
		return nil, false, fmt.Errorf("materializer: read checkpoint ref: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	entries, err := persistence.ReadTreeOids(ctx, treeOid)
	if err != nil {
		return nil, false, fmt.Errorf("materializer: read checkpoint tree: %w", err)
	}
	blobOid, ok := entries[checkpointBlobEntry]
	if !ok {
		return nil, false, fmt.Errorf("materializer: checkpoint tree missing %s entry", checkpointBlobEntry)
	}
	blob, err := persistence.ReadBlob(ctx, blobOid)
	if err != nil {
		return nil, false, fmt.Errorf("materializer: read checkpoint blob: %w", err)
	}
	cp, err := checkpoint.Decode(blob)
	if err != nil {
		return nil, false, fmt.Errorf("materializer: decode checkpoint: %w", err)
	}
	return cp, true, nil
}

// saveCheckpoint writes cp's blob and updates the graph's checkpoint ref to
// point at a fresh single-entry tree. Not CAS: the checkpoint ref is a
// derived cache, not a source of truth, so a lost race just means the loser's
// checkpoint is discarded in favor of whichever write landed last.
func saveCheckpoint(ctx context.Context, persistence port.Persistence, graph string, cp *checkpoint.Checkpoint) error {
	blob, err := cp.Encode()
	if err != nil {
		return fmt.Errorf("materializer: encode checkpoint: %w", err)
	}
	blobOid, err := persistence.WriteBlob(ctx, blob)
	if err != nil {
		return fmt.Errorf("materializer: write checkpoint blob: %w", err)
	}
	treeOid, err := persistence.WriteTree(ctx, map[string]string{checkpointBlobEntry: blobOid})
	if err != nil {
		return fmt.Errorf("materializer: write checkpoint tree: %w", err)
	}
	if err := persistence.UpdateRef(ctx, refs.CheckpointRef(graph), treeOid); err != nil {
		return fmt.Errorf("materializer: update checkpoint ref: %w", err)
	}
	return nil
}
