package cryptoadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSHA256MatchesStdlib(t *testing.T) {
	c := Standard{}
	data := []byte("git-warp")
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], c.SHA256(data))
}

func TestHMACSHA256MatchesStdlib(t *testing.T) {
	c := Standard{}
	key := []byte("secret")
	data := []byte("payload")

	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	want := mac.Sum(nil)

	assert.Equal(t, want, c.HMACSHA256(key, data))
}

func TestHMACSHA256DiffersByKey(t *testing.T) {
	c := Standard{}
	data := []byte("payload")
	assert.NotEqual(t, c.HMACSHA256([]byte("key1"), data), c.HMACSHA256([]byte("key2"), data))
}

func TestConstantTimeCompare(t *testing.T) {
	c := Standard{}
	assert.True(t, c.ConstantTimeCompare([]byte("abc"), []byte("abc")))
	assert.False(t, c.ConstantTimeCompare([]byte("abc"), []byte("abd")))
	assert.False(t, c.ConstantTimeCompare([]byte("abc"), []byte("abcd")))
}
