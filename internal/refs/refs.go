// Package refs composes and validates the git-warp ref layout: writer chains, audit chains, and checkpoints.
package refs

import (
	"fmt"
	"strings"
	"unicode"
)

// WriterRef is the tip ref for a writer's patch chain.
func WriterRef(graph, writer string) string {
	return fmt.Sprintf("refs/warp/%s/writers/%s", graph, writer)
}

// WritersPrefix lists all writer chains for a graph.
func WritersPrefix(graph string) string {
	return fmt.Sprintf("refs/warp/%s/writers/", graph)
}

// AuditRef is the tip ref for a writer's audit receipt chain.
func AuditRef(graph, writer string) string {
	return fmt.Sprintf("refs/warp/%s/audit/%s", graph, writer)
}

// AuditPrefix lists all audit chains for a graph.
func AuditPrefix(graph string) string {
	return fmt.Sprintf("refs/warp/%s/audit/", graph)
}

// CheckpointRef is the ref holding the latest checkpoint for a graph.
func CheckpointRef(graph string) string {
	return fmt.Sprintf("refs/warp/%s/checkpoint", graph)
}

// WriterFromRef extracts the writer ID from a ref produced by WriterRef or
// AuditRef, given the corresponding prefix.
func WriterFromRef(ref, prefix string) (string, bool) {
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, prefix), true
}

// ValidWriterID reports whether id can be used as a ref path segment: no
// '/', no whitespace, no control characters.
func ValidWriterID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r == '/' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
