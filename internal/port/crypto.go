package port

// Crypto provides the hashing and HMAC primitives git-warp's audit and
// authenticated-sync layers build on. Out of scope: a concrete adapter
// wraps crypto/sha256 and crypto/hmac directly, but the domain packages
// depend only on this interface so they can be tested against a fake.
type Crypto interface {
	SHA256(data []byte) []byte
	HMACSHA256(key, data []byte) []byte
	// ConstantTimeCompare reports whether a and b are equal without leaking
	// timing information, for validating HMAC signatures on inbound sync requests.
	ConstantTimeCompare(a, b []byte) bool
}
