package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/syncctl"
)

var syncRemote string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile this graph's cache against a remote peer",
	Long: `Exchange frontiers with remote, pull any patches this process is
missing, and fold them into the cached state. Does not touch local writer
chains; sync never creates commits.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncRemote, "remote", "", "remote sync endpoint URL (required)")
	syncCmd.MarkFlagRequired("remote")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	opts := syncctl.Options{
		Retries:           cfg.Sync.Retries,
		BaseDelay:         cfg.Sync.BaseBackoff,
		MaxDelay:          cfg.Sync.MaxBackoff,
		TimeoutPerAttempt: cfg.Sync.TimeoutPerTry,
		MaxResponseBytes:  cfg.Sync.MaxBodyBytes,
	}

	result, err := facade.Sync().SyncWith(ctx, syncRemote, opts)
	if err != nil {
		return fmt.Errorf("warp: sync with %s: %w", syncRemote, err)
	}

	fmt.Printf("synced with %s\n", syncRemote)
	fmt.Printf("patches applied: %d\n", result.Applied)
	return nil
}
