package mesh

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/TheusHen/roam/roam/handshake"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/network"
	"github.com/TheusHen/roam/roam/protocol"
	"github.com/TheusHen/roam/roam/rendezvous"
	"github.com/TheusHen/roam/roam/session"
	"github.com/TheusHen/roam/roam/transport"
)

const (
	DefaultMaxConcurrentAttempts = 8
	DefaultGossipInterval        = 30 * time.Second
	DefaultDispatchInterval      = time.Second
	DefaultRetryMin              = time.Second
	DefaultRetryMax              = 5 * time.Minute
	DefaultAcceptRate            = 20
	DefaultAcceptBurst           = 40

	// peerTTLGossipRounds is how many gossip rounds a disconnected member
	// stays in the View when Config.PeerTTL is unset.
	peerTTLGossipRounds = 5
)

var ErrNoSession = errors.New("mesh: no session to peer")

// Config tunes a Manager. Zero fields take the defaults.
type Config struct {
	MaxConcurrentAttempts int
	GossipInterval        time.Duration
	DispatchInterval      time.Duration
	RetryMin              time.Duration
	RetryMax              time.Duration
	// PeerTTL is how long a member without a session stays in the View
	// after it was last seen.
	PeerTTL time.Duration
	// AcceptRate limits inbound handshakes per second.
	AcceptRate  rate.Limit
	AcceptBurst int
	Session     session.Config
	Logger      *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentAttempts <= 0 {
		c.MaxConcurrentAttempts = DefaultMaxConcurrentAttempts
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = DefaultGossipInterval
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = peerTTLGossipRounds * c.GossipInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = DefaultDispatchInterval
	}
	if c.RetryMin <= 0 {
		c.RetryMin = DefaultRetryMin
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = DefaultRetryMax
		if c.RetryMax < c.RetryMin {
			c.RetryMax = c.RetryMin
		}
	}
	if c.AcceptRate <= 0 {
		c.AcceptRate = DefaultAcceptRate
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = DefaultAcceptBurst
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.Session.Logger == nil {
		c.Session.Logger = c.Logger
	}
	return c
}

// PacketHandler receives tunnel packets from connected peers.
type PacketHandler func(from identity.PeerID, packet []byte)

// Manager owns the session table of one network membership.
type Manager struct {
	nc  *network.Context
	tr  transport.Transport
	hs  *handshake.Engine
	cfg Config
	log *logrus.Entry

	table   *session.Table
	view    *View
	cands   *candidateSet
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	wake chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	onPacket PacketHandler
}

func NewManager(nc *network.Context, tr transport.Transport, hs *handshake.Engine, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		nc:  nc,
		tr:  tr,
		hs:  hs,
		cfg: cfg,
		log: cfg.Logger.WithFields(logrus.Fields{
			"component": "mesh",
			"local":     nc.LocalID().Short(),
		}),
		table:   session.NewTable(),
		view:    NewView(),
		cands:   newCandidateSet(cfg.RetryMin, cfg.RetryMax),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentAttempts)),
		limiter: rate.NewLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		wake:    make(chan struct{}, 1),
	}
}

// OnPacket installs the receiver for DATA frames.
func (m *Manager) OnPacket(fn PacketHandler) {
	m.mu.Lock()
	m.onPacket = fn
	m.mu.Unlock()
}

// AddCandidate queues an address that may belong to a member. It is safe to
// call from any goroutine, including as a rendezvous sink.
func (m *Manager) AddCandidate(c rendezvous.PeerCandidate) {
	if c.PeerID == m.nc.LocalID() {
		return
	}
	if m.cands.add(c) {
		m.log.WithFields(logrus.Fields{
			"addr":   c.Addr.String(),
			"source": c.Source.String(),
		}).Debug("New candidate")
		m.poke()
	}
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*session.Session {
	return m.table.Snapshot()
}

// Peers returns the current View.
func (m *Manager) Peers() []ViewEntry {
	return m.view.Snapshot()
}

// SendPacket sends one tunnel packet to a connected peer.
func (m *Manager) SendPacket(to identity.PeerID, packet []byte) error {
	s, ok := m.table.Get(to)
	if !ok {
		return ErrNoSession
	}
	return s.SendData(packet)
}

// Run accepts, dials and gossips until ctx is done, then closes every
// session. It returns nil on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.acceptLoop(gctx) })
	g.Go(func() error { m.dispatchLoop(gctx); return nil })
	g.Go(func() error { m.gossipLoop(gctx); return nil })
	err := g.Wait()

	m.wg.Wait()
	sessions := m.table.Snapshot()
	m.table.Close()
	for _, s := range sessions {
		s.Wait()
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) acceptLoop(ctx context.Context) error {
	for {
		conn, err := m.tr.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !m.limiter.Allow() {
			m.log.WithField("addr", conn.RemoteAddr().String()).Debug("Inbound handshake rate exceeded")
			_ = conn.Close()
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			res, err := m.hs.Respond(ctx, conn)
			if err != nil {
				return
			}
			m.establish(res)
		}()
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	t := time.NewTicker(m.cfg.DispatchInterval)
	defer t.Stop()
	for {
		m.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-m.wake:
		}
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	connected := map[netip.AddrPort]bool{}
	for _, s := range m.table.Snapshot() {
		connected[s.DialAddr()] = true
		connected[s.RemoteAddr()] = true
	}
	skip := func(c *candidate) bool {
		if !c.id.IsZero() {
			return m.table.Has(c.id)
		}
		return connected[c.addr]
	}
	for _, c := range m.cands.claim(time.Now(), m.cfg.MaxConcurrentAttempts, skip) {
		if !m.sem.TryAcquire(1) {
			m.cands.release(c.key)
			continue
		}
		m.wg.Add(1)
		go func(c candidate) {
			defer m.wg.Done()
			defer m.sem.Release(1)
			m.attempt(ctx, c)
		}(c)
	}
}

func (m *Manager) attempt(ctx context.Context, c candidate) {
	log := m.log.WithFields(logrus.Fields{"addr": c.addr.String(), "source": c.source.String()})

	dctx, cancel := context.WithTimeout(ctx, m.hs.Timeout())
	conn, err := m.tr.Dial(dctx, c.addr)
	cancel()
	if err == nil {
		var res *handshake.Result
		if res, err = m.hs.Initiate(ctx, conn); err == nil {
			m.cands.succeeded(c.key, res.RemoteID, res.DialAddr())
			m.establish(res)
			return
		}
	}
	if ctx.Err() != nil {
		m.cands.release(c.key)
		return
	}
	if errors.Is(err, handshake.ErrSelfConnection) {
		m.cands.markSelf(c.key)
		log.Debug("Candidate is this node")
		return
	}
	retry := m.cands.failed(c.key, time.Now())
	log.WithFields(logrus.Fields{
		"error": err.Error(),
		"retry": retry,
	}).Debug("Attempt failed")
}

// establish turns a handshake result into a running, tabled session.
func (m *Manager) establish(res *handshake.Result) {
	s, err := session.New(res, m.cfg.Session, session.Handlers{
		OnPeerList: m.handlePeerList,
		OnData:     m.handleData,
		OnClose:    m.handleClose,
	})
	if err != nil {
		_ = res.Conn.Close()
		m.log.WithField("error", err.Error()).Warn("Session setup failed")
		return
	}
	// Started before the table decides, so a losing duplicate still drains
	// the peer's CLOSE instead of stalling it.
	s.Start()

	kept, evicted, err := m.table.Insert(s)
	if err != nil || !kept {
		_ = s.CloseWithError(session.ErrReplaced)
		return
	}
	if evicted != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = evicted.CloseWithError(session.ErrReplaced)
		}()
	}

	m.cands.connected(s.RemoteID(), s.DialAddr())
	m.view.Merge(ViewEntry{PeerID: s.RemoteID(), Addr: s.DialAddr(), LastSeen: time.Now()})
	m.log.WithFields(logrus.Fields{
		"peer":     s.RemoteID().Short(),
		"addr":     s.DialAddr().String(),
		"cipher":   s.Cipher().String(),
		"sessions": m.table.Len(),
	}).Info("Peer connected")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.gossipTo(s)
	}()
}

func (m *Manager) gossipLoop(ctx context.Context) {
	t := time.NewTicker(m.cfg.GossipInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		m.refreshView()
		m.expire(time.Now())
		var g errgroup.Group
		g.SetLimit(m.cfg.MaxConcurrentAttempts)
		for _, s := range m.table.Snapshot() {
			g.Go(func() error {
				m.gossipTo(s)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// refreshView stamps connected peers with their session's last activity.
func (m *Manager) refreshView() {
	for _, s := range m.table.Snapshot() {
		if s.Err() == nil {
			m.view.Merge(ViewEntry{PeerID: s.RemoteID(), Addr: s.DialAddr(), LastSeen: s.LastSeen()})
		}
	}
}

// expire ages out members that have been unreachable for PeerTTL, then drops
// dial candidates for PeerIDs the View no longer holds.
func (m *Manager) expire(now time.Time) {
	for _, id := range m.view.Expire(now.Add(-m.cfg.PeerTTL), m.table.Has) {
		m.log.WithField("peer", id.Short()).Debug("Forgot unreachable member")
	}
	m.cands.prune(func(id identity.PeerID) bool {
		_, known := m.view.Get(id)
		return known || m.table.Has(id)
	})
}

func (m *Manager) gossipTo(s *session.Session) {
	entries := m.view.peerList(s.RemoteID())
	if len(entries) == 0 {
		return
	}
	err := s.SendPeerList(entries)
	if err == nil {
		return
	}
	log := m.log.WithFields(logrus.Fields{
		"peer":  s.RemoteID().Short(),
		"error": err.Error(),
	})
	// A session closing under us is routine; a frame we cannot build is not.
	if errors.Is(err, protocol.ErrPeerListTooLarge) || errors.Is(err, protocol.ErrPeerListMalformed) {
		log.Warn("Gossip send failed")
		return
	}
	log.Debug("Gossip send failed")
}

func (m *Manager) handlePeerList(from *session.Session, entries []protocol.PeerEntry) {
	learned := 0
	cutoff := time.Now().Add(-m.cfg.PeerTTL)
	for _, e := range entries {
		if e.PeerID == m.nc.LocalID() || e.PeerID.IsZero() {
			continue
		}
		seen := time.Unix(e.LastSeen, 0)
		if seen.Before(cutoff) {
			continue
		}
		m.view.Merge(ViewEntry{PeerID: e.PeerID, Addr: e.Addr, LastSeen: seen})
		if m.cands.add(rendezvous.PeerCandidate{Addr: e.Addr, PeerID: e.PeerID, Source: rendezvous.SourceGossip}) {
			learned++
		}
	}
	if learned > 0 {
		m.log.WithFields(logrus.Fields{
			"peer":    from.RemoteID().Short(),
			"learned": learned,
		}).Debug("Gossip learned candidates")
		m.poke()
	}
}

func (m *Manager) handleData(from *session.Session, packet []byte) {
	m.mu.RLock()
	fn := m.onPacket
	m.mu.RUnlock()
	if fn != nil {
		fn(from.RemoteID(), packet)
	}
}

func (m *Manager) handleClose(s *session.Session, err error) {
	if !m.table.Remove(s.RemoteID(), s) {
		return
	}
	m.view.Merge(ViewEntry{PeerID: s.RemoteID(), Addr: s.DialAddr(), LastSeen: s.LastSeen()})
	m.log.WithFields(logrus.Fields{
		"peer":     s.RemoteID().Short(),
		"reason":   err.Error(),
		"sessions": m.table.Len(),
	}).Info("Peer disconnected")
	m.poke()
}
