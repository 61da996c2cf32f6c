package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

var (
	ErrChannelClosed      = errors.New("crypto: secure channel closed")
	ErrChannelExhausted   = errors.New("crypto: secure channel key epochs exhausted")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrReplay             = errors.New("crypto: replayed or too old message")
	ErrUnknownEpoch       = errors.New("crypto: message from unknown key epoch")
)

const (
	// HeaderSize is the cleartext prefix of every sealed message: epoch (4) || seq (8).
	// The header doubles as the AEAD nonce.
	HeaderSize = NonceSize

	// DefaultRekeyAfter is the number of messages sealed under one key before
	// the sender moves to the next epoch.
	DefaultRekeyAfter = 1 << 20

	replayWindowSize = 64
)

// SecureChannel seals and opens messages for one established session.
// Each direction has its own key; keys advance one-way (HKDF) every
// rekeyAfter messages, and the previous epoch's key is wiped once the peer
// has moved past it.
type SecureChannel struct {
	cipher     CipherID
	rekeyAfter uint64

	sendMu sync.Mutex
	send   sendState

	recvMu sync.Mutex
	cur    recvEpoch
	prev   *recvEpoch
	closed bool
}

type sendState struct {
	key   []byte
	aead  cipher.AEAD
	epoch uint32
	seq   uint64
}

type recvEpoch struct {
	key    []byte
	aead   cipher.AEAD
	epoch  uint32
	window replayWindow
}

// NewSecureChannel builds a channel from the handshake output. The key slices
// are copied; callers should wipe their copies.
func NewSecureChannel(c CipherID, sendKey, recvKey []byte, rekeyAfter uint64) (*SecureChannel, error) {
	if rekeyAfter == 0 {
		rekeyAfter = DefaultRekeyAfter
	}
	sk := append([]byte(nil), sendKey...)
	sa, err := c.NewAEAD(sk)
	if err != nil {
		return nil, err
	}
	rk := append([]byte(nil), recvKey...)
	ra, err := c.NewAEAD(rk)
	if err != nil {
		Zero(sk)
		return nil, err
	}
	return &SecureChannel{
		cipher:     c,
		rekeyAfter: rekeyAfter,
		send:       sendState{key: sk, aead: sa},
		cur:        recvEpoch{key: rk, aead: ra},
	}, nil
}

// Cipher returns the negotiated cipher.
func (sc *SecureChannel) Cipher() CipherID { return sc.cipher }

// Seal encrypts plaintext. Output: epoch (4) || seq (8) || ciphertext || tag.
func (sc *SecureChannel) Seal(plaintext, ad []byte) ([]byte, error) {
	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()

	if sc.send.aead == nil {
		return nil, ErrChannelClosed
	}
	if sc.send.seq >= sc.rekeyAfter {
		if err := sc.rotateSend(); err != nil {
			return nil, err
		}
	}

	var nonce [NonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:4], sc.send.epoch)
	binary.BigEndian.PutUint64(nonce[4:12], sc.send.seq)
	sc.send.seq++

	out := make([]byte, HeaderSize, HeaderSize+len(plaintext)+TagSize)
	copy(out, nonce[:])
	return sc.send.aead.Seal(out, nonce[:], plaintext, ad), nil
}

func (sc *SecureChannel) rotateSend() error {
	if sc.send.epoch == math.MaxUint32 {
		return ErrChannelExhausted
	}
	next, err := nextEpochKey(sc.send.key)
	if err != nil {
		return err
	}
	aead, err := sc.cipher.NewAEAD(next)
	if err != nil {
		return err
	}
	Zero(sc.send.key)
	sc.send = sendState{key: next, aead: aead, epoch: sc.send.epoch + 1}
	return nil
}

// Open authenticates and decrypts a message produced by the peer's Seal.
func (sc *SecureChannel) Open(msg, ad []byte) ([]byte, error) {
	if len(msg) < HeaderSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	epoch := binary.BigEndian.Uint32(msg[0:4])
	seq := binary.BigEndian.Uint64(msg[4:12])

	sc.recvMu.Lock()
	defer sc.recvMu.Unlock()

	if sc.closed {
		return nil, ErrChannelClosed
	}

	var ep *recvEpoch
	advanced := false
	switch {
	case epoch == sc.cur.epoch:
		ep = &sc.cur
	case sc.prev != nil && epoch == sc.prev.epoch:
		ep = sc.prev
	case epoch == sc.cur.epoch+1 && sc.cur.epoch != math.MaxUint32:
		next, err := sc.peekNextEpoch()
		if err != nil {
			return nil, err
		}
		ep = next
		advanced = true
	default:
		return nil, ErrUnknownEpoch
	}

	if !ep.window.check(seq) {
		return nil, ErrReplay
	}
	pt, err := ep.aead.Open(nil, msg[:HeaderSize], msg[HeaderSize:], ad)
	if err != nil {
		if advanced {
			Zero(ep.key)
		}
		return nil, ErrDecryptionFailed
	}
	ep.window.mark(seq)

	if advanced {
		// The peer moved on; anything older than the epoch we are leaving is unreachable.
		if sc.prev != nil {
			Zero(sc.prev.key)
		}
		old := sc.cur
		sc.prev = &old
		sc.cur = *ep
	}
	return pt, nil
}

func (sc *SecureChannel) peekNextEpoch() (*recvEpoch, error) {
	next, err := nextEpochKey(sc.cur.key)
	if err != nil {
		return nil, err
	}
	aead, err := sc.cipher.NewAEAD(next)
	if err != nil {
		Zero(next)
		return nil, err
	}
	return &recvEpoch{key: next, aead: aead, epoch: sc.cur.epoch + 1}, nil
}

// SendEpoch returns the current sending key epoch.
func (sc *SecureChannel) SendEpoch() uint32 {
	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()
	return sc.send.epoch
}

// Close wipes all key material. Further Seal/Open calls fail.
func (sc *SecureChannel) Close() {
	sc.sendMu.Lock()
	Zero(sc.send.key)
	sc.send = sendState{}
	sc.sendMu.Unlock()

	sc.recvMu.Lock()
	Zero(sc.cur.key)
	if sc.prev != nil {
		Zero(sc.prev.key)
		sc.prev = nil
	}
	sc.closed = true
	sc.recvMu.Unlock()
}

// replayWindow is a sliding bitmap over the highest sequence seen.
type replayWindow struct {
	seen   bool
	max    uint64
	bitmap uint64
}

func (w *replayWindow) check(seq uint64) bool {
	if !w.seen || seq > w.max {
		return true
	}
	diff := w.max - seq
	if diff >= replayWindowSize {
		return false
	}
	return w.bitmap&(1<<diff) == 0
}

func (w *replayWindow) mark(seq uint64) {
	switch {
	case !w.seen:
		w.seen, w.max, w.bitmap = true, seq, 1
	case seq > w.max:
		shift := seq - w.max
		if shift >= replayWindowSize {
			w.bitmap = 1
		} else {
			w.bitmap = w.bitmap<<shift | 1
		}
		w.max = seq
	default:
		w.bitmap |= 1 << (w.max - seq)
	}
}
