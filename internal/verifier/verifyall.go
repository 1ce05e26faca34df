package verifier

import (
	"context"
	"sort"
	"strings"

	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/refs"
)

// AllResult is the graph-wide rollup verifyAll produces.
type AllResult struct {
	Graph            string
	Chains           map[string]ChainResult
	Summary          string
	IntegrityVerdict Status
}

// discoverWriters lists every writer with an audit chain for graph, by
// scanning the audit ref prefix.
func discoverWriters(ctx context.Context, persistence port.Persistence, graph string) ([]string, error) {
	names, err := persistence.ListRefs(ctx, refs.AuditPrefix(graph))
	if err != nil {
		return nil, err
	}
	prefix := refs.AuditPrefix(graph)
	writers := make([]string, 0, len(names))
	for _, name := range names {
		if w, ok := refs.WriterFromRef(name, prefix); ok {
			writers = append(writers, w)
		}
	}
	sort.Strings(writers)
	return writers, nil
}

// VerifyAll walks every writer's audit chain for graph and rolls the
// per-writer results up into a single integrity verdict. The verdict is the
// worst status observed, ranked BROKEN_CHAIN/DATA_MISMATCH/ERROR above
// PARTIAL above VALID, matching the severity order the individual chain
// statuses imply.
func VerifyAll(ctx context.Context, persistence port.Persistence, graph string) (AllResult, error) {
	writers, err := discoverWriters(ctx, persistence, graph)
	if err != nil {
		return AllResult{}, err
	}

	chains := make(map[string]ChainResult, len(writers))
	verdict := StatusValid
	var summaryParts []string

	for _, w := range writers {
		res := VerifyChain(ctx, persistence, graph, w, "")
		chains[w] = res
		verdict = worseOf(verdict, res.Status)
		summaryParts = append(summaryParts, w+"="+string(res.Status))
	}

	return AllResult{
		Graph:            graph,
		Chains:           chains,
		Summary:          strings.Join(summaryParts, ", "),
		IntegrityVerdict: verdict,
	}, nil
}

func statusRank(s Status) int {
	switch s {
	case StatusValid:
		return 0
	case StatusPartial:
		return 1
	case StatusDataMismatch:
		return 2
	case StatusBrokenChain:
		return 3
	case StatusError:
		return 4
	default:
		return 4
	}
}

func worseOf(a, b Status) Status {
	if statusRank(b) > statusRank(a) {
		return b
	}
	return a
}
