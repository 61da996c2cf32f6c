package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/roam/roam/transport"
)

const (
	streamAcceptTimeout = 10 * time.Second
	acceptBacklog       = 32
)

// Options tunes the QUIC layer.
type Options struct {
	KeepAlivePeriod time.Duration
	MaxIdleTimeout  time.Duration
	Logger          *logrus.Entry
}

// Transport listens and dials on one UDP socket.
type Transport struct {
	udp      *net.UDPConn
	tr       *q.Transport
	ln       *q.Listener
	tlsConf  *tls.Config
	quicConf *q.Config
	log      *logrus.Entry

	incoming  chan *Conn
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// Listen binds addr ("host:port", port 0 picks one) and starts accepting.
func Listen(addr string, opts Options) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	tlsConf, err := newTLSConfig()
	if err != nil {
		_ = udp.Close()
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	t := &Transport{
		udp:     udp,
		tr:      &q.Transport{Conn: udp},
		tlsConf: tlsConf,
		quicConf: &q.Config{
			KeepAlivePeriod: opts.KeepAlivePeriod,
			MaxIdleTimeout:  opts.MaxIdleTimeout,
		},
		log:      log.WithField("component", "transport/quic"),
		incoming: make(chan *Conn, acceptBacklog),
		done:     make(chan struct{}),
	}
	t.ln, err = t.tr.Listen(tlsConf, t.quicConf)
	if err != nil {
		_ = udp.Close()
		return nil, err
	}

	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		qc, err := t.ln.Accept(context.Background())
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.acceptStream(qc)
	}
}

// acceptStream waits for the dialer's stream off the accept loop, so a
// silent peer cannot hold up other connections.
func (t *Transport) acceptStream(qc q.Connection) {
	defer t.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), streamAcceptTimeout)
	defer cancel()
	st, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "no stream")
		return
	}
	c := newConn(qc, st)
	select {
	case t.incoming <- c:
	case <-t.done:
		_ = c.Close()
	default:
		t.log.WithField("addr", c.RemoteAddr().String()).Warn("Accept backlog full, dropping connection")
		_ = c.Close()
	}
}

func (t *Transport) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-t.incoming:
		return c, nil
	case <-t.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) Dial(ctx context.Context, addr netip.AddrPort) (transport.Conn, error) {
	select {
	case <-t.done:
		return nil, transport.ErrClosed
	default:
	}
	qc, err := t.tr.Dial(ctx, net.UDPAddrFromAddrPort(addr), t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	return newConn(qc, st), nil
}

func (t *Transport) Addr() netip.AddrPort { return addrPort(t.udp.LocalAddr()) }

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = errors.Join(t.ln.Close(), t.tr.Close())
		_ = t.udp.Close()
		t.wg.Wait()
		for {
			select {
			case c := <-t.incoming:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

// Conn is one QUIC connection carrying a single stream.
type Conn struct {
	qc q.Connection
	st q.Stream
}

func newConn(qc q.Connection, st q.Stream) *Conn {
	return &Conn{qc: qc, st: st}
}

func (c *Conn) Read(p []byte) (int, error)  { return c.st.Read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.st.Write(p) }

func (c *Conn) SetDeadline(t time.Time) error { return c.st.SetDeadline(t) }

func (c *Conn) LocalAddr() netip.AddrPort  { return addrPort(c.qc.LocalAddr()) }
func (c *Conn) RemoteAddr() netip.AddrPort { return addrPort(c.qc.RemoteAddr()) }

func (c *Conn) Close() error {
	_ = c.st.Close()
	return c.qc.CloseWithError(0, "")
}

func addrPort(a net.Addr) netip.AddrPort {
	if u, ok := a.(*net.UDPAddr); ok {
		ap := u.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}
