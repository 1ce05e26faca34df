package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show materialization, sync, and audit status for this graph",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	fmt.Printf("graph: %s\n", facade.Graph())
	fmt.Printf("writer: %s\n", facade.Writer())

	st, err := facade.Materializer().Status(ctx)
	if err != nil {
		return fmt.Errorf("warp: status: %w", err)
	}

	fmt.Printf("\nmaterialization:\n")
	fmt.Printf("  cache: %s\n", st.CachedState)
	fmt.Printf("  patches since checkpoint: %d\n", st.PatchesSinceCheckpoint)
	fmt.Printf("  tombstone ratio: %.2f\n", st.TombstoneRatio)
	fmt.Printf("  writers: %v\n", st.Writers)

	fmt.Printf("\naudit:\n")
	stats := facade.Audit().GetStats()
	fmt.Printf("  committed: %d  failed: %d  skipped: %d\n", stats.Committed, stats.Failed, stats.Skipped)
	fmt.Printf("  degraded: %t\n", facade.Audit().Degraded())

	return nil
}
