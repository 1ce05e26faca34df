package audit

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/git-stunts/git-warp/internal/port"
	"github.com/git-stunts/git-warp/internal/reducer"
)

// domainSeparator isolates the ops digest from any other SHA-256 taken over
// JSON elsewhere in the system. It is the 21-byte ASCII string below plus a
// trailing NUL (22 bytes total); that is what the digest actually binds to.
const domainSeparator = "git-warp:opsDigest:v1\x00"

// canonicalValue wraps a decoded JSON value so that json.Marshal renders
// object keys in ASCII-ascending order at every nesting level, while arrays
// keep their original order.
type canonicalValue struct{ v interface{} }

func (c canonicalValue) MarshalJSON() ([]byte, error) {
	switch t := c.v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := json.Marshal(canonicalValue{t[k]})
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := json.Marshal(canonicalValue{e})
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(t)
	}
}

// opsVector turns a TickReceipt's op records into the plain JSON-compatible
// shape scenario S2 shows: {op, target, result[, reason]}.
func opsVector(ops []reducer.OpRecord) []interface{} {
	vec := make([]interface{}, len(ops))
	for i, op := range ops {
		m := map[string]interface{}{
			"op":     op.Op,
			"target": op.Target,
			"result": string(op.Result),
		}
		if op.Reason != "" {
			m["reason"] = op.Reason
		}
		vec[i] = m
	}
	return vec
}

// CanonicalOpsJSON serializes ops with the recursive ASCII-ascending key
// sorter, producing the byte-stable encoding the ops digest hashes.
func CanonicalOpsJSON(ops []reducer.OpRecord) ([]byte, error) {
	return json.Marshal(canonicalValue{opsVector(ops)})
}

// OpsDigest computes SHA-256(domainSeparator ++ canonicalOpsJSON) via the
// Crypto port, so the hash primitive stays swappable/testable like the rest
// of git-warp's cryptographic surface.
func OpsDigest(crypto port.Crypto, ops []reducer.OpRecord) ([]byte, error) {
	canonical, err := CanonicalOpsJSON(ops)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, len(domainSeparator)+len(canonical))
	payload = append(payload, []byte(domainSeparator)...)
	payload = append(payload, canonical...)
	return crypto.SHA256(payload), nil
}
