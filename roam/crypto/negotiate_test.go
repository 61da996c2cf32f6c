package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAESHardware(t *testing.T, has bool) {
	t.Helper()
	prev := hasAESHardware
	hasAESHardware = func() bool { return has }
	t.Cleanup(func() { hasAESHardware = prev })
}

func TestLocalPreference(t *testing.T) {
	withAESHardware(t, true)
	assert.Equal(t, []CipherID{CipherAESOCB, CipherChaCha20Poly1305}, LocalPreference())

	withAESHardware(t, false)
	assert.Equal(t, []CipherID{CipherChaCha20Poly1305, CipherAESOCB}, LocalPreference())
}

func TestNegotiate(t *testing.T) {
	accelerated := []CipherID{CipherAESOCB, CipherChaCha20Poly1305}
	plain := []CipherID{CipherChaCha20Poly1305}

	c, err := Negotiate(accelerated, plain)
	require.NoError(t, err)
	assert.Equal(t, CipherChaCha20Poly1305, c)

	c, err = Negotiate(plain, accelerated)
	require.NoError(t, err)
	assert.Equal(t, CipherChaCha20Poly1305, c)

	// initiator's ranking wins when both offer everything
	c, err = Negotiate(accelerated, []CipherID{CipherChaCha20Poly1305, CipherAESOCB})
	require.NoError(t, err)
	assert.Equal(t, CipherAESOCB, c)

	_, err = Negotiate([]CipherID{CipherAESOCB}, []CipherID{CipherChaCha20Poly1305})
	assert.ErrorIs(t, err, ErrNoCommonCipher)

	_, err = Negotiate([]CipherID{CipherID(42)}, []CipherID{CipherID(42)})
	assert.ErrorIs(t, err, ErrNoCommonCipher)

	_, err = Negotiate(nil, accelerated)
	assert.ErrorIs(t, err, ErrNoCommonCipher)
}
