package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"
)

// KeySize is the size of both halves of an encoded network secret.
const KeySize = 32

// NetworkSecret is the ed25519 keypair that defines a network.
//
// The public half is the access key: anyone holding it can join and authenticate.
// The private half (stored as the 32-byte ed25519 seed) is the control key and
// may be absent, in which case the secret is access-only.
type NetworkSecret struct {
	PublicKey ed25519.PublicKey
	seed      []byte
}

// GenerateNetworkSecret creates a fresh control secret from r.
// A nil reader uses crypto/rand.
func GenerateNetworkSecret(r io.Reader) (NetworkSecret, error) {
	if r == nil {
		r = rand.Reader
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return NetworkSecret{}, &EntropyError{Err: err}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return NetworkSecret{
		PublicKey: append(ed25519.PublicKey(nil), priv.Public().(ed25519.PublicKey)...),
		seed:      seed,
	}, nil
}

// NewNetworkSecret builds a secret from raw key material. seed may be nil for
// an access-only secret; otherwise it must derive publicKey.
func NewNetworkSecret(publicKey, seed []byte) (NetworkSecret, error) {
	if len(publicKey) != KeySize {
		return NetworkSecret{}, &KeyFormatError{Segment: SegmentAccess, Err: ErrSegmentLength}
	}
	s := NetworkSecret{PublicKey: append(ed25519.PublicKey(nil), publicKey...)}
	if seed == nil {
		return s, nil
	}
	if len(seed) != KeySize {
		return NetworkSecret{}, &KeyFormatError{Segment: SegmentControl, Err: ErrSegmentLength}
	}
	derived := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, publicKey) {
		return NetworkSecret{}, &KeyFormatError{Segment: SegmentControl, Err: ErrKeyMismatch}
	}
	s.seed = append([]byte(nil), seed...)
	return s, nil
}

// HasControl reports whether the secret carries the control key.
func (s NetworkSecret) HasControl() bool { return len(s.seed) == KeySize }

// ControlKey returns a copy of the control key seed, or nil for access-only secrets.
func (s NetworkSecret) ControlKey() []byte {
	if !s.HasControl() {
		return nil
	}
	return append([]byte(nil), s.seed...)
}

// AccessOnly returns the same network secret without its control key.
func (s NetworkSecret) AccessOnly() NetworkSecret {
	return NetworkSecret{PublicKey: append(ed25519.PublicKey(nil), s.PublicKey...)}
}

// Equal reports whether both secrets hold identical key material.
func (s NetworkSecret) Equal(o NetworkSecret) bool {
	return bytes.Equal(s.PublicKey, o.PublicKey) && bytes.Equal(s.seed, o.seed)
}

// Sign signs network parameters with the control key.
func (s NetworkSecret) Sign(message []byte) ([]byte, error) {
	if !s.HasControl() {
		return nil, ErrAccessOnly
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(s.seed), message), nil
}

// VerifyNetworkSignature checks a control-key signature against the access key.
func VerifyNetworkSignature(accessKey ed25519.PublicKey, message, signature []byte) bool {
	if len(accessKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(accessKey, message, signature)
}
