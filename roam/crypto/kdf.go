package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Protocol context strings. Changing any of them is a wire-incompatible change.
const (
	macKeyInfo  = "roam/mac-key/v1"
	sessionInfo = "roam/session/v1"
	rekeyInfo   = "roam/rekey/v1"
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveMACKey derives the hello authentication key from the access key.
// Every holder of the access key derives the same value.
func DeriveMACKey(accessKey []byte) ([32]byte, error) {
	var out [32]byte
	k, err := DeriveKey(accessKey, nil, []byte(macKeyInfo), len(out))
	if err != nil {
		return out, err
	}
	copy(out[:], k)
	Zero(k)
	return out, nil
}

// SessionKeys is the output of one handshake's key schedule.
type SessionKeys struct {
	InitiatorToResponder [32]byte
	ResponderToInitiator [32]byte
	Confirm              [32]byte
}

// Zero wipes all keys.
func (k *SessionKeys) Zero() {
	Zero(k.InitiatorToResponder[:])
	Zero(k.ResponderToInitiator[:])
	Zero(k.Confirm[:])
}

// DeriveSessionKeys expands the DH shared value into per-direction keys.
// The MAC key salts the extraction so that only network members can reproduce
// the keys; cipher and transcript hash bind them to this exact attempt.
func DeriveSessionKeys(sharedSecret []byte, macKey [32]byte, cipher CipherID, transcriptHash [32]byte) (SessionKeys, error) {
	info := make([]byte, 0, len(sessionInfo)+1+len(transcriptHash))
	info = append(info, sessionInfo...)
	info = append(info, byte(cipher))
	info = append(info, transcriptHash[:]...)

	keyMaterial, err := DeriveKey(sharedSecret, macKey[:], info, 96)
	if err != nil {
		return SessionKeys{}, err
	}
	defer Zero(keyMaterial)

	var keys SessionKeys
	copy(keys.InitiatorToResponder[:], keyMaterial[:32])
	copy(keys.ResponderToInitiator[:], keyMaterial[32:64])
	copy(keys.Confirm[:], keyMaterial[64:96])
	return keys, nil
}

// nextEpochKey derives the key that replaces current after a rekey.
func nextEpochKey(current []byte) ([]byte, error) {
	return DeriveKey(current, nil, []byte(rekeyInfo), len(current))
}
