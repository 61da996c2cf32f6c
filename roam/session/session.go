package session

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/roam/roam/crypto"
	"github.com/TheusHen/roam/roam/handshake"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/protocol"
	"github.com/TheusHen/roam/roam/transport"
)

const (
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultKeepaliveTimeout  = 30 * time.Second

	closeWriteTimeout = time.Second
)

var (
	ErrClosed           = errors.New("session: closed")
	ErrKeepaliveTimeout = errors.New("session: keepalive timeout")
	ErrRemoteClosed     = errors.New("session: closed by peer")
	ErrReplaced         = errors.New("session: replaced by another session to the same peer")
)

// Config tunes a Session. Zero fields take the defaults.
type Config struct {
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	// RekeyAfter is the number of messages per key epoch.
	RekeyAfter uint64
	Logger     *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.KeepaliveTimeout <= c.KeepaliveInterval {
		c.KeepaliveTimeout = 3 * c.KeepaliveInterval
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// Handlers receive what arrives on a session. They run on the session's
// reader goroutine and must not write to the same session synchronously.
type Handlers struct {
	OnPeerList func(s *Session, entries []protocol.PeerEntry)
	OnData     func(s *Session, payload []byte)
	// OnClose runs once, after the session has shut down.
	OnClose func(s *Session, err error)
}

// Session is an established, encrypted connection to one peer.
type Session struct {
	remoteID   identity.PeerID
	remoteAddr netip.AddrPort
	dialAddr   netip.AddrPort
	role       protocol.Role
	tieBreak   []byte
	createdAt  time.Time

	conn transport.Conn
	ch   *crypto.SecureChannel
	cfg  Config
	h    Handlers
	log  *logrus.Entry

	writeMu  sync.Mutex
	lastSeen atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error
	wg        sync.WaitGroup
}

// New wraps an established handshake. The result's keys are copied into the
// channel and wiped from res.
func New(res *handshake.Result, cfg Config, h Handlers) (*Session, error) {
	cfg = cfg.withDefaults()
	ch, err := crypto.NewSecureChannel(res.Cipher, res.SendKey[:], res.RecvKey[:], cfg.RekeyAfter)
	res.Zero()
	if err != nil {
		return nil, err
	}
	s := &Session{
		remoteID:   res.RemoteID,
		remoteAddr: res.RemoteAddr,
		dialAddr:   res.DialAddr(),
		role:       res.Role,
		tieBreak:   res.TieBreak(),
		createdAt:  res.EstablishedAt,
		conn:       res.Conn,
		ch:         ch,
		cfg:        cfg,
		h:          h,
		log: cfg.Logger.WithFields(logrus.Fields{
			"component": "session",
			"peer":      res.RemoteID.Short(),
			"addr":      res.RemoteAddr.String(),
		}),
		done: make(chan struct{}),
	}
	if s.createdAt.IsZero() {
		s.createdAt = time.Now()
	}
	s.lastSeen.Store(s.createdAt.UnixNano())
	return s, nil
}

func (s *Session) RemoteID() identity.PeerID  { return s.remoteID }
func (s *Session) RemoteAddr() netip.AddrPort { return s.remoteAddr }
func (s *Session) Role() protocol.Role        { return s.role }
func (s *Session) Cipher() crypto.CipherID    { return s.ch.Cipher() }
func (s *Session) CreatedAt() time.Time       { return s.createdAt }
func (s *Session) Done() <-chan struct{}      { return s.done }

// DialAddr is the address the peer accepts connections on.
func (s *Session) DialAddr() netip.AddrPort { return s.dialAddr }

// LastSeen is when the last authenticated frame arrived.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) String() string {
	return fmt.Sprintf("%s@%s", s.remoteID.Short(), s.remoteAddr)
}

// Err is why the session ended, nil while it is running.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Start launches the reader and keepalive goroutines.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(2)
		go s.readLoop()
		go s.keepaliveLoop()
	})
}

// Send seals payload as a frame of type t.
func (s *Session) Send(t protocol.MessageType, payload []byte) error {
	if !t.Sealed() {
		return fmt.Errorf("session: %s frames are not sent on a session", t)
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	sealed, err := s.ch.Seal(payload, t.AD())
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := protocol.WriteFrame(s.conn, protocol.Frame{Type: t, Payload: sealed}); err != nil {
		s.shutdown(fmt.Errorf("session: write: %w", err))
		return err
	}
	return nil
}

// SendPeerList gossips entries to the peer.
func (s *Session) SendPeerList(entries []protocol.PeerEntry) error {
	payload, err := protocol.EncodePeerList(entries)
	if err != nil {
		return err
	}
	return s.Send(protocol.MessageTypePeerList, payload)
}

// SendData sends one tunnel packet.
func (s *Session) SendData(packet []byte) error {
	return s.Send(protocol.MessageTypeData, packet)
}

// Close tells the peer and tears the session down. It is safe to call more
// than once and from any goroutine.
func (s *Session) Close() error {
	return s.CloseWithError(ErrClosed)
}

// CloseWithError is Close with a specific reason reported to OnClose.
func (s *Session) CloseWithError(reason error) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	// A writer stuck on a dead peer gives up at this deadline too.
	_ = s.conn.SetDeadline(time.Now().Add(closeWriteTimeout))
	s.writeMu.Lock()
	_ = protocol.WriteFrame(s.conn, s.closeFrame())
	s.writeMu.Unlock()
	s.shutdown(reason)
	return nil
}

// Wait blocks until both session goroutines have returned.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) closeFrame() protocol.Frame {
	sealed, err := s.ch.Seal(nil, protocol.MessageTypeClose.AD())
	if err != nil {
		return protocol.Frame{Type: protocol.MessageTypeClose}
	}
	return protocol.Frame{Type: protocol.MessageTypeClose, Payload: sealed}
}

func (s *Session) shutdown(reason error) {
	s.closeOnce.Do(func() {
		s.err = reason
		close(s.done)
		_ = s.conn.Close()
		s.ch.Close()
		if errors.Is(reason, ErrClosed) || errors.Is(reason, ErrReplaced) {
			s.log.WithField("reason", reason.Error()).Debug("Session closed")
		} else {
			s.log.WithField("reason", reason.Error()).Info("Session lost")
		}
		if s.h.OnClose != nil {
			go s.h.OnClose(s, reason)
		}
	})
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_ = s.conn.SetDeadline(time.Now().Add(s.cfg.KeepaliveTimeout))
		f, err := protocol.ReadFrame(s.conn)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if isTimeout(err) {
				s.shutdown(ErrKeepaliveTimeout)
			} else {
				s.shutdown(fmt.Errorf("session: read: %w", err))
			}
			return
		}
		if !f.Type.Sealed() {
			s.shutdown(fmt.Errorf("session: unexpected %s frame", f.Type))
			return
		}
		payload, err := s.ch.Open(f.Payload, f.Type.AD())
		if err != nil {
			s.shutdown(fmt.Errorf("session: open %s: %w", f.Type, err))
			return
		}
		s.lastSeen.Store(time.Now().UnixNano())

		switch f.Type {
		case protocol.MessageTypeKeepalive:
		case protocol.MessageTypeClose:
			s.shutdown(ErrRemoteClosed)
			return
		case protocol.MessageTypePeerList:
			entries, err := protocol.DecodePeerList(payload)
			if err != nil {
				s.log.WithField("error", err.Error()).Warn("Dropping malformed peer list")
				continue
			}
			if s.h.OnPeerList != nil {
				s.h.OnPeerList(s, entries)
			}
		case protocol.MessageTypeData:
			if s.h.OnData != nil {
				s.h.OnData(s, payload)
			}
		}
	}
}

func (s *Session) keepaliveLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.KeepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.Send(protocol.MessageTypeKeepalive, nil); err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
