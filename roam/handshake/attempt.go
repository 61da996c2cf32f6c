package handshake

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/protocol"
	"github.com/TheusHen/roam/roam/transport"
)

const (
	transcriptLabel       = "roam/transcript/v1"
	confirmInitiatorLabel = "roam/confirm/initiator"
	confirmResponderLabel = "roam/confirm/responder"
)

// Attempt is one handshake over one connection. The connection is closed
// when the attempt fails and handed over in the Result when it succeeds.
type Attempt struct {
	id    string
	e     *Engine
	role  protocol.Role
	conn  transport.Conn
	state atomic.Int32
	log   *logrus.Entry

	eph crypto.X25519KeyPair
}

func newAttempt(e *Engine, role protocol.Role, conn transport.Conn) *Attempt {
	id := uuid.NewString()
	return &Attempt{
		id:   id,
		e:    e,
		role: role,
		conn: conn,
		log: e.log.WithFields(logrus.Fields{
			"attempt": id[:8],
			"role":    role.String(),
			"addr":    conn.RemoteAddr().String(),
		}),
	}
}

func (a *Attempt) ID() string { return a.id }

func (a *Attempt) State() State { return State(a.state.Load()) }

func (a *Attempt) setState(s State) {
	a.state.Store(int32(s))
	a.log.WithField("state", s.String()).Debug("Handshake state")
}

// Run drives the attempt to ESTABLISHED or FAILED. It returns
// *AuthenticationError, *NoCommonCipherError, *HandshakeTimeoutError, a
// context error when ctx is cancelled, or a wrapped transport error.
func (a *Attempt) Run(ctx context.Context) (*Result, error) {
	if a.State() != StateInit {
		return nil, errors.New("handshake: attempt already run")
	}
	timeout := a.e.cfg.Timeout
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := hctx.Deadline()
	_ = a.conn.SetDeadline(deadline)
	// Unblock pending I/O the moment the caller gives up.
	stop := context.AfterFunc(hctx, func() { _ = a.conn.SetDeadline(time.Unix(1, 0)) })

	res, err := a.run()
	stop()
	defer a.eph.Zero()

	if err != nil {
		failedIn := a.State()
		a.setState(StateFailed)
		_ = a.conn.Close()
		err = a.classify(ctx, hctx, failedIn, err)
		a.logFailure(err)
		return nil, err
	}
	_ = a.conn.SetDeadline(time.Time{})
	a.setState(StateEstablished)
	a.log.WithFields(logrus.Fields{
		"peer":   res.RemoteID.Short(),
		"cipher": res.Cipher.String(),
	}).Info("Handshake established")
	return res, nil
}

func (a *Attempt) classify(parent, hctx context.Context, in State, err error) error {
	var (
		authErr   *AuthenticationError
		cipherErr *NoCommonCipherError
	)
	if errors.As(err, &authErr) || errors.As(err, &cipherErr) {
		return err
	}
	if parent.Err() != nil {
		return fmt.Errorf("handshake: %s: %w", in, parent.Err())
	}
	var ne net.Error
	if hctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return &HandshakeTimeoutError{Addr: a.conn.RemoteAddr(), State: in, After: a.e.cfg.Timeout}
	}
	return fmt.Errorf("handshake: %s: %w", in, err)
}

func (a *Attempt) logFailure(err error) {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		// Anyone can connect; unauthenticated noise stays out of the default log.
		a.log.WithField("reason", authErr.Reason.Error()).Debug("Handshake rejected")
		return
	}
	a.log.WithField("error", err.Error()).Warn("Handshake failed")
}

func (a *Attempt) authFailure(reason error) error {
	return &AuthenticationError{Addr: a.conn.RemoteAddr(), Reason: reason}
}

func (a *Attempt) run() (*Result, error) {
	nc := a.e.nc
	macKey := nc.MACKey()

	var err error
	if a.eph, err = crypto.GenerateX25519(); err != nil {
		return nil, err
	}
	local := protocol.Hello{
		Version:    protocol.HelloVersion,
		Role:       a.role,
		PeerID:     nc.LocalID(),
		Ephemeral:  a.eph.PublicKey,
		Timestamp:  a.e.cfg.now().Unix(),
		ListenPort: a.e.cfg.ListenPort,
		Ciphers:    nc.Ciphers(),
	}
	if _, err := io.ReadFull(rand.Reader, local.Nonce[:]); err != nil {
		return nil, err
	}
	localRaw, err := protocol.EncodeHello(local, macKey)
	if err != nil {
		return nil, err
	}

	remoteRaw, err := a.exchange(
		protocol.Frame{Type: protocol.MessageTypeHello, Payload: localRaw},
		protocol.MessageTypeHello, protocol.MaxHelloSize,
		func() { a.setState(StateHelloSent) },
	)
	if err != nil {
		return nil, err
	}

	remote, err := protocol.DecodeHello(remoteRaw, macKey)
	if err != nil {
		return nil, a.authFailure(fmt.Errorf("%w: %v", ErrBadHello, err))
	}
	if err := a.checkHello(remote); err != nil {
		return nil, err
	}
	a.setState(StateHelloReceived)

	helloI, helloR := localRaw, remoteRaw
	initCiphers, respCiphers := local.Ciphers, remote.Ciphers
	if a.role == protocol.RoleResponder {
		helloI, helloR = remoteRaw, localRaw
		initCiphers, respCiphers = remote.Ciphers, local.Ciphers
	}
	cipher, err := crypto.Negotiate(initCiphers, respCiphers)
	if err != nil {
		return nil, &NoCommonCipherError{Addr: a.conn.RemoteAddr(), Initiator: initCiphers, Responder: respCiphers}
	}

	shared, err := crypto.ECDH(a.eph.PrivateKey, remote.Ephemeral)
	a.eph.Zero()
	if err != nil {
		return nil, a.authFailure(err)
	}
	th := transcriptHash(helloI, helloR)
	keys, err := crypto.DeriveSessionKeys(shared, macKey, cipher, th)
	crypto.Zero(shared)
	if err != nil {
		return nil, err
	}
	defer keys.Zero()
	a.setState(StateKeyDerived)

	mine, theirs := confirmInitiatorLabel, confirmResponderLabel
	if a.role == protocol.RoleResponder {
		mine, theirs = theirs, mine
	}
	tag := crypto.MAC(keys.Confirm[:], []byte(mine), th[:])
	peerTag, err := a.exchange(
		protocol.Frame{Type: protocol.MessageTypeConfirm, Payload: tag[:]},
		protocol.MessageTypeConfirm, crypto.MACSize, nil,
	)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyMAC(keys.Confirm[:], peerTag, []byte(theirs), th[:]) {
		return nil, a.authFailure(ErrBadConfirm)
	}
	a.setState(StateAuthenticated)

	res := &Result{
		AttemptID:        a.id,
		Conn:             a.conn,
		Role:             a.role,
		RemoteID:         remote.PeerID,
		RemoteAddr:       a.conn.RemoteAddr(),
		RemoteListenPort: remote.ListenPort,
		Cipher:           cipher,
		TranscriptHash:   th,
		EstablishedAt:    a.e.cfg.now(),
	}
	if a.role == protocol.RoleInitiator {
		res.SendKey, res.RecvKey = keys.InitiatorToResponder, keys.ResponderToInitiator
		res.InitiatorEphemeral, res.ResponderEphemeral = local.Ephemeral, remote.Ephemeral
	} else {
		res.SendKey, res.RecvKey = keys.ResponderToInitiator, keys.InitiatorToResponder
		res.InitiatorEphemeral, res.ResponderEphemeral = remote.Ephemeral, local.Ephemeral
	}
	return res, nil
}

func (a *Attempt) checkHello(h protocol.Hello) error {
	want := protocol.RoleResponder
	if a.role == protocol.RoleResponder {
		want = protocol.RoleInitiator
	}
	if h.Role != want {
		return a.authFailure(ErrRoleMismatch)
	}
	if h.PeerID == a.e.nc.LocalID() {
		return a.authFailure(ErrSelfConnection)
	}
	skew := a.e.cfg.now().Sub(time.Unix(h.Timestamp, 0))
	if skew > a.e.cfg.ReplayWindow || skew < -a.e.cfg.ReplayWindow {
		return a.authFailure(ErrStaleHello)
	}
	// The responder's hello always answers a fresh initiator ephemeral, so
	// only initiator hellos can be replayed usefully.
	if a.role == protocol.RoleResponder && !a.e.replay.observe(h.Nonce) {
		return a.authFailure(ErrReplayedHello)
	}
	return nil
}

// exchange writes out while reading the peer's frame of type want, and
// returns only once the write has finished. Both sides send first, so the
// write cannot wait for the read on a synchronous pipe.
func (a *Attempt) exchange(out protocol.Frame, want protocol.MessageType, limit uint32, sent func()) ([]byte, error) {
	werr := make(chan error, 1)
	go func() { werr <- protocol.WriteFrame(a.conn, out) }()

	in, rerr := protocol.ReadFrameMax(a.conn, limit)
	if err := <-werr; err != nil {
		return nil, err
	}
	if sent != nil {
		sent()
	}
	if rerr != nil {
		if errors.Is(rerr, protocol.ErrFrameTooLarge) || errors.Is(rerr, protocol.ErrInvalidType) {
			return nil, a.authFailure(fmt.Errorf("%w: %v", ErrUnexpectedFrame, rerr))
		}
		return nil, rerr
	}
	if in.Type != want {
		return nil, a.authFailure(fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, in.Type, want))
	}
	return in.Payload, nil
}

func transcriptHash(helloInitiator, helloResponder []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(transcriptLabel))
	h.Write(helloInitiator)
	h.Write(helloResponder)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
