// Package trailer encodes and decodes the typed commit-message trailers
// that mirror a patch or receipt blob's fields, so that a
// verifier can cross-check the two independently.
package trailer

import (
	"fmt"
	"strconv"
	"strings"
)

// PatchTrailers mirrors a patch blob: eg-schema, eg-graph, eg-writer,
// eg-lamport, eg-patch-oid, in that fixed order.
type PatchTrailers struct {
	Schema   int
	Graph    string
	Writer   string
	Lamport  uint64
	PatchOid string
}

// Format renders subject + trailers as a commit message, trailer order fixed.
func (t PatchTrailers) Format(subject string) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "eg-schema: %d\n", t.Schema)
	fmt.Fprintf(&b, "eg-graph: %s\n", t.Graph)
	fmt.Fprintf(&b, "eg-writer: %s\n", t.Writer)
	fmt.Fprintf(&b, "eg-lamport: %d\n", t.Lamport)
	fmt.Fprintf(&b, "eg-patch-oid: %s\n", t.PatchOid)
	return b.String()
}

// ParsePatchTrailers extracts typed trailers from a commit message.
func ParsePatchTrailers(message string) (PatchTrailers, error) {
	kv, err := parse(message)
	if err != nil {
		return PatchTrailers{}, err
	}
	schema, err := strconv.Atoi(kv["eg-schema"])
	if err != nil {
		return PatchTrailers{}, fmt.Errorf("trailer: bad eg-schema: %w", err)
	}
	lamport, err := strconv.ParseUint(kv["eg-lamport"], 10, 64)
	if err != nil {
		return PatchTrailers{}, fmt.Errorf("trailer: bad eg-lamport: %w", err)
	}
	return PatchTrailers{
		Schema:   schema,
		Graph:    kv["eg-graph"],
		Writer:   kv["eg-writer"],
		Lamport:  lamport,
		PatchOid: kv["eg-patch-oid"],
	}, nil
}

// AuditTrailers mirrors a receipt blob: eg-schema=1, eg-graph, eg-writer,
// eg-data-commit, eg-ops-digest.
type AuditTrailers struct {
	Schema     int
	Graph      string
	Writer     string
	DataCommit string
	OpsDigest  string
}

func (t AuditTrailers) Format(subject string) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "eg-schema: %d\n", t.Schema)
	fmt.Fprintf(&b, "eg-graph: %s\n", t.Graph)
	fmt.Fprintf(&b, "eg-writer: %s\n", t.Writer)
	fmt.Fprintf(&b, "eg-data-commit: %s\n", t.DataCommit)
	fmt.Fprintf(&b, "eg-ops-digest: %s\n", t.OpsDigest)
	return b.String()
}

func ParseAuditTrailers(message string) (AuditTrailers, error) {
	kv, err := parse(message)
	if err != nil {
		return AuditTrailers{}, err
	}
	schema, err := strconv.Atoi(kv["eg-schema"])
	if err != nil {
		return AuditTrailers{}, fmt.Errorf("trailer: bad eg-schema: %w", err)
	}
	return AuditTrailers{
		Schema:     schema,
		Graph:      kv["eg-graph"],
		Writer:     kv["eg-writer"],
		DataCommit: kv["eg-data-commit"],
		OpsDigest:  kv["eg-ops-digest"],
	}, nil
}

func parse(message string) (map[string]string, error) {
	out := make(map[string]string)
	lines := strings.Split(message, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "eg-") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, fmt.Errorf("trailer: malformed line %q", line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		out[key] = value
	}
	return out, nil
}
