package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/ProtonMail/go-crypto/ocb"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrUnknownCipher    = errors.New("crypto: unknown cipher")
	ErrInvalidKeySize   = errors.New("crypto: invalid session key size")
	ErrNoCommonCipher   = errors.New("crypto: no common cipher")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

const (
	// KeySize is the session key size for every supported cipher.
	KeySize = 32
	// NonceSize is the nonce size used with every supported cipher.
	NonceSize = 12
	// TagSize is the authentication tag size of every supported cipher.
	TagSize = 16
)

// CipherID identifies a tunnel cipher on the wire. The set is closed: adding a
// cipher is a protocol change.
type CipherID uint8

const (
	CipherAESOCB           CipherID = 1
	CipherChaCha20Poly1305 CipherID = 2
)

// AllCiphers lists every cipher this build can run, in no particular order.
var AllCiphers = []CipherID{CipherAESOCB, CipherChaCha20Poly1305}

func (c CipherID) String() string {
	switch c {
	case CipherAESOCB:
		return "AES-OCB"
	case CipherChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

// Known reports whether c is one of the supported ciphers.
func (c CipherID) Known() bool {
	return c == CipherAESOCB || c == CipherChaCha20Poly1305
}

// ParseCipherID maps a cipher name (as printed by String) to its ID.
func ParseCipherID(name string) (CipherID, error) {
	for _, c := range AllCiphers {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
}

// NewAEAD instantiates the cipher with a 32-byte key. All variants expose the
// same seal/open shape: 12-byte nonce, 16-byte tag.
func (c CipherID) NewAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	switch c {
	case CipherAESOCB:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return ocb.NewOCBWithNonceAndTagSize(block, NonceSize, TagSize)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, ErrUnknownCipher
	}
}
