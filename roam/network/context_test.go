package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/rendezvous"
)

func TestContextDerivation(t *testing.T) {
	secret, err := identity.GenerateNetworkSecret(nil)
	require.NoError(t, err)

	full, err := New(secret)
	require.NoError(t, err)
	member, err := New(secret.AccessOnly())
	require.NoError(t, err)

	// an access-only member derives the same network values
	assert.Equal(t, full.MACKey(), member.MACKey())
	assert.Equal(t, full.Topic(), member.Topic())
	assert.Equal(t, rendezvous.TopicFor(secret.PublicKey), full.Topic())
	assert.NotEqual(t, full.LocalID(), member.LocalID())
	assert.False(t, member.Secret().HasControl())

	other, err := identity.GenerateNetworkSecret(nil)
	require.NoError(t, err)
	outsider, err := New(other)
	require.NoError(t, err)
	assert.NotEqual(t, full.MACKey(), outsider.MACKey())
}

func TestContextOptions(t *testing.T) {
	secret, err := identity.GenerateNetworkSecret(nil)
	require.NoError(t, err)
	id := identity.PeerID{7}

	c, err := New(secret, WithPeerID(id), WithCiphers(crypto.CipherChaCha20Poly1305))
	require.NoError(t, err)
	assert.Equal(t, id, c.LocalID())
	assert.Equal(t, []crypto.CipherID{crypto.CipherChaCha20Poly1305}, c.Ciphers())

	// callers cannot mutate the stored ranking
	c.Ciphers()[0] = crypto.CipherAESOCB
	assert.Equal(t, crypto.CipherChaCha20Poly1305, c.Ciphers()[0])

	_, err = New(secret, WithCiphers())
	assert.ErrorIs(t, err, ErrNoCiphers)
}

func TestContextRejectsBadCipherRanking(t *testing.T) {
	secret, err := identity.GenerateNetworkSecret(nil)
	require.NoError(t, err)

	_, err = New(secret, WithCiphers(crypto.CipherAESOCB, crypto.CipherAESOCB))
	assert.ErrorIs(t, err, ErrDuplicateCipher)

	_, err = New(secret, WithCiphers(crypto.CipherChaCha20Poly1305, crypto.CipherID(99)))
	assert.ErrorIs(t, err, crypto.ErrUnknownCipher)

	long := make([]crypto.CipherID, 17)
	for i := range long {
		long[i] = crypto.AllCiphers[i%len(crypto.AllCiphers)]
	}
	_, err = New(secret, WithCiphers(long...))
	assert.Error(t, err, "more entries than a hello carries")

	c, err := New(secret, WithCiphers(crypto.CipherChaCha20Poly1305, crypto.CipherAESOCB))
	require.NoError(t, err)
	assert.Len(t, c.Ciphers(), 2)
}
