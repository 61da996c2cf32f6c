package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		s, err := GenerateNetworkSecret(nil)
		require.NoError(t, err)

		enc := Encode(s)
		require.Contains(t, enc, ":")
		got, err := DecodeNetworkSecret(enc)
		require.NoError(t, err)
		assert.True(t, got.Equal(s))
		assert.True(t, got.HasControl())
	}
}

func TestAccessOnly(t *testing.T) {
	s, err := GenerateNetworkSecret(nil)
	require.NoError(t, err)

	ro := s.AccessOnly()
	assert.False(t, ro.HasControl())
	assert.Nil(t, ro.ControlKey())
	assert.Equal(t, s.PublicKey, ro.PublicKey)
	assert.True(t, s.HasControl(), "AccessOnly must not mutate the source secret")

	enc := Encode(ro)
	assert.NotContains(t, enc, ":")
	got, err := DecodeNetworkSecret(enc)
	require.NoError(t, err)
	assert.True(t, got.Equal(ro))
}

func TestSegmentEncoding(t *testing.T) {
	// unpadded base64url, no standard-alphabet characters
	assert.Equal(t, "accs", keyEncoding.EncodeToString([]byte{105, 199, 44}))
	assert.Equal(t, "scrt", keyEncoding.EncodeToString([]byte{177, 202, 237}))
}

func TestDecodeErrors(t *testing.T) {
	s, err := GenerateNetworkSecret(nil)
	require.NoError(t, err)
	other, err := GenerateNetworkSecret(nil)
	require.NoError(t, err)

	access := keyEncoding.EncodeToString(s.PublicKey)
	control := keyEncoding.EncodeToString(s.ControlKey())
	short := keyEncoding.EncodeToString(make([]byte, 31))

	cases := []struct {
		name    string
		in      string
		segment string
		want    error
	}{
		{"empty", "", SegmentAccess, ErrSegmentLength},
		{"three segments", access + ":" + control + ":" + control, "", ErrSegmentCount},
		{"bad access base64", "!!!!", SegmentAccess, ErrSegmentEncoding},
		{"padded std base64", access + "=", SegmentAccess, ErrSegmentEncoding},
		{"short access", short, SegmentAccess, ErrSegmentLength},
		{"empty control", access + ":", SegmentControl, ErrSegmentLength},
		{"short control", access + ":" + short, SegmentControl, ErrSegmentLength},
		{"bad control base64", access + ":$$", SegmentControl, ErrSegmentEncoding},
		{"mismatched control", keyEncoding.EncodeToString(other.PublicKey) + ":" + control, SegmentControl, ErrKeyMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeNetworkSecret(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrKeyFormat)
			assert.ErrorIs(t, err, tc.want)

			var kfe *KeyFormatError
			require.True(t, errors.As(err, &kfe))
			assert.Equal(t, tc.segment, kfe.Segment)
		})
	}
}

func TestStringHidesControlKey(t *testing.T) {
	s, err := GenerateNetworkSecret(nil)
	require.NoError(t, err)
	assert.NotContains(t, s.String(), ":")
	assert.Equal(t, Encode(s.AccessOnly()), s.String())
}
