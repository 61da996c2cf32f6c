package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// MACSize is the length of every tag produced by MAC.
const MACSize = sha256.Size

// MAC computes HMAC-SHA256 over the concatenation of parts.
func MAC(key []byte, parts ...[]byte) [MACSize]byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	var out [MACSize]byte
	copy(out[:], m.Sum(nil))
	return out
}

// VerifyMAC checks tag in constant time.
func VerifyMAC(key, tag []byte, parts ...[]byte) bool {
	want := MAC(key, parts...)
	return hmac.Equal(want[:], tag)
}
