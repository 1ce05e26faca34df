package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/materializer"
)

var ceilingLamport uint64

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Replay every writer chain and print the resulting graph summary",
	RunE:  runMaterialize,
}

func init() {
	materializeCmd.Flags().Uint64Var(&ceilingLamport, "ceiling", 0, "bound replay to lamport <= ceiling (0 means live head)")
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	opts := materializer.Options{}
	if ceilingLamport > 0 {
		opts.Ceiling = &ceilingLamport
	}

	state, err := facade.Materializer().Materialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("warp: materialize: %w", err)
	}

	fmt.Printf("graph: %s\n", facade.Graph())
	fmt.Printf("nodes: %d\n", len(state.NodeAlive.Elements()))
	fmt.Printf("edges: %d\n", len(state.EdgeAlive.Elements()))
	fmt.Printf("max lamport observed: %d\n", state.MaxLamportObserved)
	fmt.Printf("writers in frontier: %d\n", len(state.ObservedFrontier))
	return nil
}
