package protocol

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
)

func testHello(t *testing.T) Hello {
	t.Helper()
	id, err := identity.NewPeerID()
	require.NoError(t, err)
	kp, err := crypto.GenerateX25519()
	require.NoError(t, err)
	return Hello{
		Version:    HelloVersion,
		Role:       RoleInitiator,
		PeerID:     id,
		Ephemeral:  kp.PublicKey,
		Timestamp:  time.Now().Unix(),
		Nonce:      [HelloNonceSize]byte{1, 2, 3},
		ListenPort: 4242,
		Ciphers:    []crypto.CipherID{crypto.CipherChaCha20Poly1305, crypto.CipherAESOCB},
	}
}

func TestHelloRoundTrip(t *testing.T) {
	key := [32]byte{9}
	in := testHello(t)

	raw, err := EncodeHello(in, key)
	require.NoError(t, err)
	assert.Len(t, raw, helloFixedSize+2+crypto.MACSize)

	out, err := DecodeHello(raw, key)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHelloWrongKey(t *testing.T) {
	raw, err := EncodeHello(testHello(t), [32]byte{1})
	require.NoError(t, err)
	_, err = DecodeHello(raw, [32]byte{2})
	assert.ErrorIs(t, err, ErrHelloBadMAC)
}

func TestHelloTamper(t *testing.T) {
	key := [32]byte{5}
	raw, err := EncodeHello(testHello(t), key)
	require.NoError(t, err)

	// every byte, MAC included, is covered
	for i := range raw {
		mod := append([]byte(nil), raw...)
		mod[i] ^= 0x01
		_, err := DecodeHello(mod, key)
		assert.Error(t, err, "byte %d", i)
	}
}

func TestHelloMalformed(t *testing.T) {
	key := [32]byte{5}
	raw, err := EncodeHello(testHello(t), key)
	require.NoError(t, err)

	_, err = DecodeHello(raw[:len(raw)-1], key)
	assert.ErrorIs(t, err, ErrHelloMalformed)
	_, err = DecodeHello(append(raw, 0), key)
	assert.ErrorIs(t, err, ErrHelloMalformed)
	_, err = DecodeHello(nil, key)
	assert.ErrorIs(t, err, ErrHelloMalformed)

	h := testHello(t)
	h.Ciphers = nil
	_, err = EncodeHello(h, key)
	assert.ErrorIs(t, err, ErrHelloMalformed)
}

func TestHelloVersion(t *testing.T) {
	key := [32]byte{5}
	h := testHello(t)
	h.Version = 2
	raw, err := EncodeHello(h, key)
	require.NoError(t, err)
	_, err = DecodeHello(raw, key)
	assert.ErrorIs(t, err, ErrHelloVersion)
}

func TestPeerListRoundTrip(t *testing.T) {
	small := []PeerEntry{
		{PeerID: identity.PeerID{1}, Addr: netip.MustParseAddrPort("10.0.0.1:4000"), LastSeen: 100},
		{PeerID: identity.PeerID{2}, Addr: netip.MustParseAddrPort("[2001:db8::1]:5000"), LastSeen: 200},
	}
	raw, err := EncodePeerList(small)
	require.NoError(t, err)
	assert.Equal(t, peerListRaw, raw[0])
	out, err := DecodePeerList(raw)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	var large []PeerEntry
	for i := 0; i < 64; i++ {
		large = append(large, PeerEntry{
			PeerID:   identity.PeerID{byte(i)},
			Addr:     netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), 4000),
			LastSeen: 1700000000,
		})
	}
	raw, err = EncodePeerList(large)
	require.NoError(t, err)
	assert.Equal(t, peerListLZ4, raw[0])
	out, err = DecodePeerList(raw)
	require.NoError(t, err)
	assert.Equal(t, large, out)
}

func TestPeerListEmpty(t *testing.T) {
	raw, err := EncodePeerList(nil)
	require.NoError(t, err)
	out, err := DecodePeerList(raw)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPeerListMalformed(t *testing.T) {
	raw, err := EncodePeerList([]PeerEntry{
		{PeerID: identity.PeerID{1}, Addr: netip.MustParseAddrPort("10.0.0.1:4000")},
	})
	require.NoError(t, err)

	_, err = DecodePeerList(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrPeerListMalformed)
	_, err = DecodePeerList(append(raw, 0))
	assert.ErrorIs(t, err, ErrPeerListMalformed)
	_, err = DecodePeerList([]byte{9, 0, 0})
	assert.ErrorIs(t, err, ErrPeerListMalformed)
	_, err = DecodePeerList(nil)
	assert.ErrorIs(t, err, ErrPeerListMalformed)

	_, err = EncodePeerList([]PeerEntry{{PeerID: identity.PeerID{1}}})
	assert.ErrorIs(t, err, ErrPeerListMalformed)
}
