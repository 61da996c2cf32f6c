package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/identity"
)

func TestParseSubnet(t *testing.T) {
	p, err := ParseSubnet("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSubnet, p)

	p, err = ParseSubnet("10.1.2.3/16")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.1.0.0/16"), p)

	for _, bad := range []string{"10.0.0.0", "10.0.0.0/31", "10.0.0.0/x", "nope/8", "fd00::/64"} {
		_, err := ParseSubnet(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParseSubnet("10.0.0.0/33")
	assert.ErrorIs(t, err, ErrInvalidCIDR)
	_, err = ParseSubnet("fd00::/64")
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestNewNetworkValidates(t *testing.T) {
	c, err := NewNetwork("home", "")
	require.NoError(t, err)
	assert.Equal(t, "home", c.Name)
	assert.Equal(t, DefaultSubnet, c.Prefix())

	s, err := c.Secret()
	require.NoError(t, err)
	assert.True(t, s.HasControl())

	_, err = NewNetwork("  ", "")
	assert.ErrorIs(t, err, ErrNoName)
}

func TestValidateRejectsBadKey(t *testing.T) {
	c, err := NewNetwork("home", "")
	require.NoError(t, err)
	c.Key = "not-a-key"
	assert.ErrorIs(t, c.Validate(), identity.ErrKeyFormat)
}

func TestAccessOnlyRecord(t *testing.T) {
	c, err := NewNetwork("home", "10.9.0.0/24")
	require.NoError(t, err)
	ao, err := c.AccessOnly()
	require.NoError(t, err)

	s, err := ao.Secret()
	require.NoError(t, err)
	assert.False(t, s.HasControl())
	full, _ := c.Secret()
	assert.Equal(t, full.PublicKey, s.PublicKey)
	assert.Equal(t, c.Prefix(), ao.Prefix())
}

func TestFileRoundTrip(t *testing.T) {
	c, err := NewNetwork("office", "172.16.0.0/20")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nets", "office.json")
	require.NoError(t, WriteFile(path, c))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","key":"","network_addr":"10.0.0.0","cidr":8}`), 0o600))
	_, err = ReadFile(path)
	assert.Error(t, err)
}

func TestLoadOptionsDefaults(t *testing.T) {
	t.Setenv("ROAM_CONFIG", "")
	opts, err := LoadOptions("")
	require.NoError(t, err)
	def := DefaultOptions()
	assert.Equal(t, def.Listen, opts.Listen)
	assert.Equal(t, def.Log, opts.Log)
	assert.Equal(t, def.Handshake, opts.Handshake)
	assert.Equal(t, def.Mesh, opts.Mesh)
	assert.Empty(t, opts.Bootstrap)
}

func TestLoadOptionsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:9000
bootstrap: [203.0.113.7:4123]
ciphers: [ChaCha20-Poly1305]
handshake:
  timeout: 3s
mesh:
  max_attempts: 2
`), 0o600))
	t.Setenv("ROAM_LOG_LEVEL", "DEBUG")

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", opts.Listen)
	assert.Equal(t, []string{"203.0.113.7:4123"}, opts.Bootstrap)
	assert.Equal(t, 3*time.Second, opts.Handshake.Timeout)
	assert.Equal(t, 2, opts.Mesh.MaxAttempts)
	assert.Equal(t, "debug", opts.Log.Level)
	assert.Equal(t, 30*time.Second, opts.Keepalive.Timeout)

	prefs, err := opts.CipherPreference()
	require.NoError(t, err)
	assert.Equal(t, []crypto.CipherID{crypto.CipherChaCha20Poly1305}, prefs)
}

func TestOptionsValidate(t *testing.T) {
	o := DefaultOptions()
	o.Log.Level = "loud"
	assert.Error(t, o.Validate())

	o = DefaultOptions()
	o.Ciphers = []string{"rot13"}
	assert.ErrorIs(t, o.Validate(), crypto.ErrUnknownCipher)

	o = DefaultOptions()
	o.Keepalive.Timeout = o.Keepalive.Interval
	assert.Error(t, o.Validate())
}
