// Package keycodec composes the composite keys that WarpState uses to index
// edges and properties in a single flat namespace.
package keycodec

import "strings"

const (
	sep        = "\x00"
	edgePropPrefix = "\x01"
)

// EdgeKey composes the OR-Set element key for an edge.
func EdgeKey(from, to, label string) string {
	return from + sep + to + sep + label
}

// NodePropKey composes the LWW register key for a node property.
func NodePropKey(nodeID, propKey string) string {
	return nodeID + sep + propKey
}

// EdgePropKey composes the LWW register key for an edge property. The
// leading \x01 guarantees non-collision with node-prop keys because no node
// ID may begin with \x01.
func EdgePropKey(from, to, label, propKey string) string {
	return edgePropPrefix + from + sep + to + sep + label + sep + propKey
}

// IsEdgePropKey reports whether key was produced by EdgePropKey.
func IsEdgePropKey(key string) bool {
	return strings.HasPrefix(key, edgePropPrefix)
}

// SplitEdgeKey decomposes a key produced by EdgeKey back into from/to/label.
func SplitEdgeKey(key string) (from, to, label string, ok bool) {
	parts := strings.Split(key, sep)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// SplitEdgePropKey decomposes a key produced by EdgePropKey back into its
// from/to/label/propKey components.
func SplitEdgePropKey(key string) (from, to, label, propKey string, ok bool) {
	if !IsEdgePropKey(key) {
		return "", "", "", "", false
	}
	parts := strings.Split(key[len(edgePropPrefix):], sep)
	if len(parts) != 4 {
		return "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], true
}

// SplitNodePropKey decomposes a key produced by NodePropKey back into
// nodeID/propKey.
func SplitNodePropKey(key string) (nodeID, propKey string, ok bool) {
	if IsEdgePropKey(key) {
		return "", "", false
	}
	parts := strings.SplitN(key, sep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
