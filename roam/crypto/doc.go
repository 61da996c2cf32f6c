// Package crypto provides the cryptographic primitives for Roam tunnels.
//
// Design goals:
//   - Forward secrecy via ephemeral X25519 key exchange
//   - Two interchangeable AEADs: AES-OCB (preferred with AES hardware) and
//     ChaCha20-Poly1305 (RFC 8439)
//   - Key derivation via HKDF-SHA256, hello authentication via HMAC-SHA256
//   - Constant-time tag comparison; key material wiped when discarded
package crypto
