package main

import (
	"context"
	"fmt"

	"github.com/git-stunts/git-warp/internal/builder"
	"github.com/git-stunts/git-warp/internal/cryptoadapter"
	"github.com/git-stunts/git-warp/internal/graph"
	"github.com/git-stunts/git-warp/internal/materializer"
	"github.com/git-stunts/git-warp/internal/objectstore/boltstore"
	"github.com/git-stunts/git-warp/internal/provenance"
	"github.com/git-stunts/git-warp/internal/provenance/sqlstore"
	"github.com/git-stunts/git-warp/internal/transport"
)

// openFacade wires a Facade from the loaded config: bolt-backed persistence,
// stdlib crypto, an HTTP sync transport, and (if configured) a durable
// provenance mirror. The returned closer must be called before the process
// exits to flush the object and provenance stores.
func openFacade(ctx context.Context) (*graph.Facade, func() error, error) {
	store, err := boltstore.Open(cfg.Storage.BoltPath)
	if err != nil {
		return nil, nil, fmt.Errorf("warp: open object store at %s: %w", cfg.Storage.BoltPath, err)
	}

	var durableProv provenance.Store
	var closeProv func() error
	switch cfg.Provenance.Type {
	case "sqlite":
		s, err := sqlstore.NewSQLite(cfg.Provenance.SQLitePath)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("warp: open provenance store at %s: %w", cfg.Provenance.SQLitePath, err)
		}
		durableProv = s
		closeProv = s.Close
	case "postgres":
		s, err := sqlstore.NewPostgres(cfg.Provenance.PostgresDSN)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("warp: open provenance store: %w", err)
		}
		durableProv = s
		closeProv = s.Close
	}

	httpClient := transport.New(cfg.Sync.TimeoutPerTry)
	if cfg.Sync.RateLimitPerSecond > 0 {
		httpClient = httpClient.WithRateLimit(cfg.Sync.RateLimitPerSecond, cfg.Sync.RateLimitBurst)
	}

	policy := materializer.CheckpointPolicy{
		PatchThreshold:      cfg.Checkpoint.PatchThreshold,
		TombstoneRatioFloor: cfg.Checkpoint.TombstoneRatioFloor,
	}

	facade := graph.New(store, cryptoadapter.Standard{}, httpClient,
		graphName(), writerID(), builder.DeletePolicyReject, policy, durableProv)

	closer := func() error {
		if closeProv != nil {
			if err := closeProv(); err != nil {
				return err
			}
		}
		return store.Close()
	}
	return facade, closer, nil
}
