// Package cborcodec provides the canonical CBOR encoding mode shared by the
// patch blob and checkpoint codecs, so that "canonical" means the same thing
// (bytewise-lexicographic key sort, RFC 8949 core deterministic encoding)
// wherever it is used. Receipt blobs are encoded by internal/audit in struct
// declaration order instead.
package cborcodec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical is the shared canonical encoder. It sorts map and struct keys by
// the bytes of their CBOR encoding. A text key shorter than 24 bytes carries
// its length in its first byte, so shorter keys come first ("ops" before
// "context"); only keys of equal length end up in plain ASCII order.
var Canonical = func() cbor.EncMode {
	opts := cbor.EncOptions{Sort: cbor.SortBytewiseLexical}
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: building canonical enc mode: %v", err))
	}
	return m
}()
