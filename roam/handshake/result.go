package handshake

import (
	"bytes"
	"net/netip"
	"time"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/protocol"
	"github.com/TheusHen/roam/roam/transport"
)

// Result is the output of an established attempt. The caller owns Conn and
// must Zero the keys once they have been handed to a channel.
type Result struct {
	AttemptID string
	Conn      transport.Conn
	Role      protocol.Role

	RemoteID         identity.PeerID
	RemoteAddr       netip.AddrPort
	RemoteListenPort uint16

	Cipher  crypto.CipherID
	SendKey [32]byte
	RecvKey [32]byte

	InitiatorEphemeral [32]byte
	ResponderEphemeral [32]byte
	TranscriptHash     [32]byte
	EstablishedAt      time.Time
}

// DialAddr is where the peer accepts connections: its observed host with
// the listen port it advertised.
func (r *Result) DialAddr() netip.AddrPort {
	if r.RemoteListenPort == 0 {
		return r.RemoteAddr
	}
	return netip.AddrPortFrom(r.RemoteAddr.Addr(), r.RemoteListenPort)
}

// TieBreak is initiator_eph || responder_eph. Both ends of one connection
// compute the same bytes.
func (r *Result) TieBreak() []byte {
	out := make([]byte, 0, 64)
	out = append(out, r.InitiatorEphemeral[:]...)
	return append(out, r.ResponderEphemeral[:]...)
}

// Beats reports whether r wins the tie-break against other.
func (r *Result) Beats(other *Result) bool {
	return bytes.Compare(r.TieBreak(), other.TieBreak()) > 0
}

// Zero wipes the session keys.
func (r *Result) Zero() {
	crypto.Zero(r.SendKey[:])
	crypto.Zero(r.RecvKey[:])
}
