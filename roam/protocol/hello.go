package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
)

// HelloVersion is the only hello layout this package speaks.
const HelloVersion = 1

const (
	helloLabel      = "roam/hello/v1"
	helloFixedSize  = 1 + 1 + 32 + 32 + 8 + 16 + 2 + 1
	HelloNonceSize  = 16
	maxHelloCiphers = 16
)

// MaxHelloSize bounds an encoded hello.
const MaxHelloSize = helloFixedSize + maxHelloCiphers + crypto.MACSize

var (
	ErrHelloMalformed = errors.New("protocol: malformed hello")
	ErrHelloVersion   = errors.New("protocol: unsupported hello version")
	ErrHelloBadMAC    = errors.New("protocol: hello authentication failed")
)

// Role is the side a hello was sent from.
type Role uint8

const (
	RoleInitiator Role = 1
	RoleResponder Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Hello is the first message of a handshake. It travels in the clear and is
// authenticated with the network MAC key, so only holders of the access key
// can produce one that verifies.
//
// Layout:
//
//	version u8 | role u8 | peer_id [32] | ephemeral [32] | timestamp i64 |
//	nonce [16] | listen_port u16 | n_ciphers u8 | ciphers [n] | mac [32]
type Hello struct {
	Version    uint8
	Role       Role
	PeerID     identity.PeerID
	Ephemeral  [32]byte
	Timestamp  int64 // unix seconds
	Nonce      [HelloNonceSize]byte
	ListenPort uint16
	Ciphers    []crypto.CipherID
}

func (h Hello) body() []byte {
	b := make([]byte, helloFixedSize, helloFixedSize+len(h.Ciphers)+crypto.MACSize)
	b[0] = h.Version
	b[1] = byte(h.Role)
	copy(b[2:34], h.PeerID[:])
	copy(b[34:66], h.Ephemeral[:])
	binary.BigEndian.PutUint64(b[66:74], uint64(h.Timestamp))
	copy(b[74:90], h.Nonce[:])
	binary.BigEndian.PutUint16(b[90:92], h.ListenPort)
	b[92] = byte(len(h.Ciphers))
	for _, c := range h.Ciphers {
		b = append(b, byte(c))
	}
	return b
}

// EncodeHello serializes h and appends its MAC.
func EncodeHello(h Hello, macKey [32]byte) ([]byte, error) {
	if len(h.Ciphers) == 0 || len(h.Ciphers) > maxHelloCiphers {
		return nil, fmt.Errorf("%w: %d ciphers", ErrHelloMalformed, len(h.Ciphers))
	}
	b := h.body()
	mac := crypto.MAC(macKey[:], []byte(helloLabel), b)
	return append(b, mac[:]...), nil
}

// DecodeHello parses raw and checks its MAC. The layout is checked before the
// MAC so a truncated message is reported as malformed; callers treat both the
// same way.
func DecodeHello(raw []byte, macKey [32]byte) (Hello, error) {
	if len(raw) < helloFixedSize+crypto.MACSize {
		return Hello{}, ErrHelloMalformed
	}
	n := int(raw[92])
	if n == 0 || n > maxHelloCiphers || len(raw) != helloFixedSize+n+crypto.MACSize {
		return Hello{}, ErrHelloMalformed
	}
	body, tag := raw[:helloFixedSize+n], raw[helloFixedSize+n:]
	if !crypto.VerifyMAC(macKey[:], tag, []byte(helloLabel), body) {
		return Hello{}, ErrHelloBadMAC
	}
	if raw[0] != HelloVersion {
		return Hello{}, fmt.Errorf("%w: %d", ErrHelloVersion, raw[0])
	}

	h := Hello{
		Version:    raw[0],
		Role:       Role(raw[1]),
		Timestamp:  int64(binary.BigEndian.Uint64(raw[66:74])),
		ListenPort: binary.BigEndian.Uint16(raw[90:92]),
		Ciphers:    make([]crypto.CipherID, n),
	}
	copy(h.PeerID[:], raw[2:34])
	copy(h.Ephemeral[:], raw[34:66])
	copy(h.Nonce[:], raw[74:90])
	for i := 0; i < n; i++ {
		h.Ciphers[i] = crypto.CipherID(raw[helloFixedSize+i])
	}
	return h, nil
}
