package handshake

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/TheusHen/roam/roam/crypto"
)

// Reasons carried by AuthenticationError.
var (
	ErrBadHello        = errors.New("hello did not verify")
	ErrRoleMismatch    = errors.New("peer claimed the same role")
	ErrSelfConnection  = errors.New("connected to self")
	ErrStaleHello      = errors.New("hello timestamp outside replay window")
	ErrReplayedHello   = errors.New("hello nonce already seen")
	ErrBadConfirm      = errors.New("key confirmation failed")
	ErrUnexpectedFrame = errors.New("unexpected frame")
)

// AuthenticationError means the peer could not prove network membership,
// or proved it in a way that must still be refused.
type AuthenticationError struct {
	Addr   netip.AddrPort
	Reason error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("handshake: authentication with %s failed: %v", e.Addr, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Reason }

// NoCommonCipherError is returned when the two rankings are disjoint.
type NoCommonCipherError struct {
	Addr      netip.AddrPort
	Initiator []crypto.CipherID
	Responder []crypto.CipherID
}

func (e *NoCommonCipherError) Error() string {
	return fmt.Sprintf("handshake: no common cipher with %s (initiator %v, responder %v)",
		e.Addr, e.Initiator, e.Responder)
}

func (e *NoCommonCipherError) Unwrap() error { return crypto.ErrNoCommonCipher }

// HandshakeTimeoutError is returned when an attempt does not finish within
// the configured timeout.
type HandshakeTimeoutError struct {
	Addr  netip.AddrPort
	State State
	After time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handshake: %s timed out after %s in %s", e.Addr, e.After, e.State)
}

// Timeout lets callers treat it like a net.Error.
func (e *HandshakeTimeoutError) Timeout() bool { return true }
