package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/builder"
)

var (
	addNodes    []string
	removeNodes []string
	addEdges    []string
	removeEdges []string
	setProps    []string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Build and commit a patch against the current writer chain",
	Long: `Accumulate node/edge/property ops from flags into a single patch and
commit it via compare-and-swap on the writer's tip ref. Edges and
properties use a colon-separated shorthand:

  --add-edge from:to:label
  --set-prop node:key=value
  --set-edge-prop from:to:label:key=value`,
	RunE: runCommit,
}

var setEdgeProps []string

func init() {
	commitCmd.Flags().StringArrayVar(&addNodes, "add-node", nil, "node id to add (repeatable)")
	commitCmd.Flags().StringArrayVar(&removeNodes, "remove-node", nil, "node id to remove (repeatable)")
	commitCmd.Flags().StringArrayVar(&addEdges, "add-edge", nil, "from:to:label edge to add (repeatable)")
	commitCmd.Flags().StringArrayVar(&removeEdges, "remove-edge", nil, "from:to:label edge to remove (repeatable)")
	commitCmd.Flags().StringArrayVar(&setProps, "set-prop", nil, "node:key=value property to set (repeatable)")
	commitCmd.Flags().StringArrayVar(&setEdgeProps, "set-edge-prop", nil, "from:to:label:key=value edge property to set (repeatable)")
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	sha, committed, err := facade.CommitPatch(ctx, func(b *builder.Builder) error {
		for _, n := range addNodes {
			b.AddNode(n)
		}
		for _, n := range removeNodes {
			if err := b.RemoveNode(n); err != nil {
				return err
			}
		}
		for _, e := range addEdges {
			from, to, label, err := parseEdgeRef(e)
			if err != nil {
				return err
			}
			b.AddEdge(from, to, label)
		}
		for _, e := range removeEdges {
			from, to, label, err := parseEdgeRef(e)
			if err != nil {
				return err
			}
			if err := b.RemoveEdge(from, to, label); err != nil {
				return err
			}
		}
		for _, p := range setProps {
			nodeID, key, value, err := parseNodeProp(p)
			if err != nil {
				return err
			}
			b.SetNodeProp(nodeID, key, value)
		}
		for _, p := range setEdgeProps {
			from, to, label, key, value, err := parseEdgeProp(p)
			if err != nil {
				return err
			}
			if err := b.SetEdgeProp(from, to, label, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("warp: commit: %w", err)
	}

	fmt.Printf("committed %s\n", sha)
	fmt.Printf("writer: %s  lamport: %d  ops: %d\n", committed.Writer, committed.Lamport, len(committed.Ops))
	return nil
}

func parseEdgeRef(s string) (from, to, label string, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("warp: edge ref %q must be from:to:label", s)
	}
	return parts[0], parts[1], parts[2], nil
}

func parseNodeProp(s string) (nodeID, key string, value string, err error) {
	nodePart, kv, ok := cutLast(s, ":")
	if !ok {
		return "", "", "", fmt.Errorf("warp: node prop %q must be node:key=value", s)
	}
	key, value, ok = strings.Cut(kv, "=")
	if !ok {
		return "", "", "", fmt.Errorf("warp: node prop %q must be node:key=value", s)
	}
	return nodePart, key, value, nil
}

func parseEdgeProp(s string) (from, to, label, key, value string, err error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return "", "", "", "", "", fmt.Errorf("warp: edge prop %q must be from:to:label:key=value", s)
	}
	key, value, ok := strings.Cut(parts[3], "=")
	if !ok {
		return "", "", "", "", "", fmt.Errorf("warp: edge prop %q must be from:to:label:key=value", s)
	}
	return parts[0], parts[1], parts[2], key, value, nil
}

// cutLast splits s on the last occurrence of sep, since node IDs themselves
// may contain ":" (e.g. "user:42").
func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
