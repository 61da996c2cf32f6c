package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"
)

func TestPeerIDRoundTrip(t *testing.T) {
	id1, err := NewPeerID()
	if err != nil {
		t.Fatalf("NewPeerID: %v", err)
	}
	id2, _ := NewPeerID()
	if id1 == id2 {
		t.Fatalf("expected distinct PeerIDs")
	}

	parsed, err := ParsePeerIDHex(id1.String())
	if err != nil {
		t.Fatalf("ParsePeerIDHex: %v", err)
	}
	if parsed != id1 {
		t.Fatalf("ParsePeerIDHex mismatch")
	}
	if len(id1.Short()) != 8 {
		t.Fatalf("unexpected short id %q", id1.Short())
	}
	if _, err := ParsePeerIDHex("abcd"); err != ErrInvalidPeerID {
		t.Fatalf("expected ErrInvalidPeerID, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	s, err := GenerateNetworkSecret(nil)
	if err != nil {
		t.Fatalf("GenerateNetworkSecret: %v", err)
	}

	msg := []byte("name=office;net=192.168.251.0/24")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifyNetworkSignature(s.PublicKey, msg, sig) {
		t.Fatalf("signature verification failed")
	}
	if VerifyNetworkSignature(s.PublicKey, []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail for tampered message")
	}

	other, _ := GenerateNetworkSecret(nil)
	if VerifyNetworkSignature(other.PublicKey, msg, sig) {
		t.Fatalf("expected verification to fail with different access key")
	}

	// access-only secrets can still verify but never sign
	ro := s.AccessOnly()
	if _, err := ro.Sign(msg); err != ErrAccessOnly {
		t.Fatalf("expected ErrAccessOnly, got %v", err)
	}
	if !VerifyNetworkSignature(ro.PublicKey, msg, sig) {
		t.Fatalf("access-only key should verify control signature")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGenerateEntropyError(t *testing.T) {
	_, err := GenerateNetworkSecret(failingReader{})
	var ee *EntropyError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EntropyError, got %v", err)
	}
}

func TestGenerateFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, KeySize)
	s, err := GenerateNetworkSecret(bytes.NewReader(seed))
	if err != nil {
		t.Fatalf("GenerateNetworkSecret: %v", err)
	}
	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !bytes.Equal(s.PublicKey, want) {
		t.Fatalf("public key does not match seed")
	}
	if !bytes.Equal(s.ControlKey(), seed) {
		t.Fatalf("control key does not match seed")
	}
}
