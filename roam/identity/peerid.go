package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

// PeerID names one node of a network. It is random per process and only
// used to deduplicate sessions; trust comes from the network secret.
type PeerID [32]byte

var ErrInvalidPeerID = errors.New("identity: invalid PeerID length")

// NewPeerID generates a random PeerID.
func NewPeerID() (PeerID, error) {
	var id PeerID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return PeerID{}, &EntropyError{Err: err}
	}
	return id, nil
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != len(PeerID{}) {
		return PeerID{}, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the first 8 hex characters, for logs.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id PeerID) IsZero() bool { return id == PeerID{} }
