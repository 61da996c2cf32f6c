// Package network holds the per-membership values every component needs.
// A Context is built once from the network secret and passed explicitly;
// nothing in roam keeps process-wide network state.
package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/rendezvous"
)

var (
	ErrNoCiphers       = errors.New("network: empty cipher preference")
	ErrDuplicateCipher = errors.New("network: cipher listed twice")
)

// Context is immutable after New.
type Context struct {
	secret  identity.NetworkSecret
	macKey  [32]byte
	topic   rendezvous.Topic
	localID identity.PeerID
	ciphers []crypto.CipherID
}

type Option func(*Context)

// WithPeerID fixes the local node identity instead of drawing a random one.
func WithPeerID(id identity.PeerID) Option {
	return func(c *Context) { c.localID = id }
}

// WithCiphers overrides the hardware-derived cipher ranking.
func WithCiphers(ciphers ...crypto.CipherID) Option {
	return func(c *Context) { c.ciphers = slices.Clone(ciphers) }
}

// New derives the hello MAC key and rendezvous topic from secret.
func New(secret identity.NetworkSecret, opts ...Option) (*Context, error) {
	macKey, err := crypto.DeriveMACKey(secret.PublicKey)
	if err != nil {
		return nil, err
	}
	c := &Context{
		secret:  secret,
		macKey:  macKey,
		topic:   rendezvous.TopicFor(secret.PublicKey),
		ciphers: crypto.LocalPreference(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := validateCiphers(c.ciphers); err != nil {
		return nil, err
	}
	if c.localID.IsZero() {
		if c.localID, err = identity.NewPeerID(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// validateCiphers rejects rankings no hello could carry. Every entry must be
// known and listed once, which also keeps the list within the hello's limit.
func validateCiphers(ciphers []crypto.CipherID) error {
	if len(ciphers) == 0 {
		return ErrNoCiphers
	}
	seen := make(map[crypto.CipherID]struct{}, len(ciphers))
	for _, id := range ciphers {
		if !id.Known() {
			return fmt.Errorf("network: %w: id %d", crypto.ErrUnknownCipher, uint8(id))
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCipher, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (c *Context) Secret() identity.NetworkSecret { return c.secret }

// MACKey authenticates hellos. Every member derives the same value.
func (c *Context) MACKey() [32]byte { return c.macKey }

func (c *Context) Topic() rendezvous.Topic { return c.topic }

func (c *Context) LocalID() identity.PeerID { return c.localID }

// Ciphers is the local ranking, most preferred first.
func (c *Context) Ciphers() []crypto.CipherID { return slices.Clone(c.ciphers) }
