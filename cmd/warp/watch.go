package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/materializer"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the graph's writer frontier and print diffs as they arrive",
	Long: `Periodically re-materialize the graph and print a summary of any
nodes, edges, or properties that changed since the last poll. Runs until
interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "polling interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	facade.Materializer().Subscribe(func(diff materializer.StateDiff) error {
		if diff.Empty() {
			return nil
		}
		fmt.Printf("[%s] +%d nodes  -%d nodes  +%d edges  -%d edges  %d props changed\n",
			time.Now().Format(time.RFC3339),
			len(diff.NodesAdded), len(diff.NodesRemoved),
			len(diff.EdgesAdded), len(diff.EdgesRemoved), len(diff.PropsChanged))
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	fmt.Printf("watching graph %s every %s (ctrl-c to stop)\n", facade.Graph(), watchInterval)

	for {
		if _, err := facade.Materializer().Materialize(ctx, materializer.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "warp: materialize: %v\n", err)
		}

		select {
		case <-sigChan:
			fmt.Println("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}
