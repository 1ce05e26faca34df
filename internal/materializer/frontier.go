package materializer

import (
	"context"
	"sort"

	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/refs"
)

// Frontier maps a writer ID to the tip SHA of its chain, the unit exchanged
// during sync and compared to detect staleness.
type Frontier map[string]string

// Equal reports whether two frontiers name the same writers at the same tips.
func (f Frontier) Equal(other Frontier) bool {
	if len(f) != len(other) {
		return false
	}
	for w, sha := range f {
		if other[w] != sha {
			return false
		}
	}
	return true
}

// Writers returns the frontier's writer IDs, sorted.
func (f Frontier) Writers() []string {
	out := make([]string, 0, len(f))
	for w := range f {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// GetFrontier lists every writer chain for graph and returns its current tip.
func GetFrontier(ctx context.Context, persistence port.Persistence, graph string) (Frontier, error) {
	prefix := refs.WritersPrefix(graph)
	names, err := persistence.ListRefs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	frontier := make(Frontier, len(names))
	for _, name := range names {
		writer, ok := refs.WriterFromRef(name, prefix)
		if !ok {
			continue
		}
		sha, found, err := persistence.ReadRef(ctx, name)
		if err != nil {
			return nil, err
		}
		if found {
			frontier[writer] = sha
		}
	}
	return frontier, nil
}
