// Package cryptoadapter implements the git-warp Crypto port on the standard
// library's crypto/sha256, crypto/hmac, and crypto/subtle.
package cryptoadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// Standard is the stdlib-backed port.Crypto implementation. It holds no
// state, so its zero value is ready to use.
type Standard struct{}

func (Standard) SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (Standard) HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (Standard) ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
