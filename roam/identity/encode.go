package identity

import (
	"encoding/base64"
	"strings"
)

// keyEncoding is unpadded base64url (RFC 4648 section 5).
var keyEncoding = base64.RawURLEncoding

// Encode renders the secret as "<access>" or "<access>:<control>".
func Encode(s NetworkSecret) string {
	access := keyEncoding.EncodeToString(s.PublicKey)
	if !s.HasControl() {
		return access
	}
	return access + ":" + keyEncoding.EncodeToString(s.seed)
}

// String returns the access key only so that secrets never leak into logs.
func (s NetworkSecret) String() string {
	return keyEncoding.EncodeToString(s.PublicKey)
}

// DecodeNetworkSecret parses a key produced by Encode.
func DecodeNetworkSecret(encoded string) (NetworkSecret, error) {
	parts := strings.Split(strings.TrimSpace(encoded), ":")
	if len(parts) > 2 {
		return NetworkSecret{}, &KeyFormatError{Err: ErrSegmentCount}
	}

	pub, err := decodeSegment(SegmentAccess, parts[0])
	if err != nil {
		return NetworkSecret{}, err
	}
	if len(parts) == 1 {
		return NewNetworkSecret(pub, nil)
	}
	seed, err := decodeSegment(SegmentControl, parts[1])
	if err != nil {
		return NetworkSecret{}, err
	}
	return NewNetworkSecret(pub, seed)
}

func decodeSegment(segment, s string) ([]byte, error) {
	if s == "" {
		return nil, &KeyFormatError{Segment: segment, Err: ErrSegmentLength}
	}
	b, err := keyEncoding.DecodeString(s)
	if err != nil {
		return nil, &KeyFormatError{Segment: segment, Err: ErrSegmentEncoding}
	}
	if len(b) != KeySize {
		return nil, &KeyFormatError{Segment: segment, Err: ErrSegmentLength}
	}
	return b, nil
}
