package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyFormat matches every *KeyFormatError via errors.Is.
	ErrKeyFormat = errors.New("identity: malformed network key")

	ErrSegmentCount    = errors.New("identity: key must have one or two segments")
	ErrSegmentEncoding = errors.New("identity: key segment is not base64url")
	ErrSegmentLength   = errors.New("identity: key segment is not 32 bytes")
	ErrKeyMismatch     = errors.New("identity: control key does not match access key")

	ErrAccessOnly = errors.New("identity: secret has no control key")
)

// Key segments named in KeyFormatError.
const (
	SegmentAccess  = "access"
	SegmentControl = "control"
)

// KeyFormatError reports why an encoded network key was rejected.
type KeyFormatError struct {
	Segment string // empty when the error is not specific to one segment
	Err     error
}

func (e *KeyFormatError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%v: %v", ErrKeyFormat, e.Err)
	}
	return fmt.Sprintf("%v: %s segment: %v", ErrKeyFormat, e.Segment, e.Err)
}

func (e *KeyFormatError) Unwrap() error { return e.Err }

func (e *KeyFormatError) Is(target error) bool { return target == ErrKeyFormat }

// EntropyError is returned when the random source cannot produce key material.
type EntropyError struct {
	Err error
}

func (e *EntropyError) Error() string { return "identity: random source unavailable: " + e.Err.Error() }

func (e *EntropyError) Unwrap() error { return e.Err }
