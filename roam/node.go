package roam

import (
	"context"
	"errors"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/TheusHen/roam/roam/config"
	"github.com/TheusHen/roam/roam/handshake"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/mesh"
	"github.com/TheusHen/roam/roam/network"
	"github.com/TheusHen/roam/roam/rendezvous"
	"github.com/TheusHen/roam/roam/rendezvous/static"
	"github.com/TheusHen/roam/roam/session"
	"github.com/TheusHen/roam/roam/transport"
	"github.com/TheusHen/roam/roam/transport/quic"
	"github.com/TheusHen/roam/roam/tunnel"
)

var (
	ErrStarted    = errors.New("roam: node already started")
	ErrNotStarted = errors.New("roam: node not started")
)

type nodeOptions struct {
	opts      *config.Options
	tr        transport.Transport
	svc       rendezvous.Service
	device    tunnel.Device
	logger    *logrus.Entry
	peerID    identity.PeerID
	hasPeerID bool
}

type NodeOption func(*nodeOptions)

// WithOptions replaces config.DefaultOptions.
func WithOptions(o *config.Options) NodeOption { return func(n *nodeOptions) { n.opts = o } }

// WithTransport uses tr instead of binding a QUIC transport on Options.Listen.
// The node takes ownership and closes it.
func WithTransport(tr transport.Transport) NodeOption { return func(n *nodeOptions) { n.tr = tr } }

// WithRendezvous sets the discovery service. Without it the node keeps
// re-resolving the bootstrap list.
func WithRendezvous(svc rendezvous.Service) NodeOption { return func(n *nodeOptions) { n.svc = svc } }

// WithDevice delivers received packets to d, brought up with the network's
// subnet on Start.
func WithDevice(d tunnel.Device) NodeOption { return func(n *nodeOptions) { n.device = d } }

func WithLogger(l *logrus.Entry) NodeOption { return func(n *nodeOptions) { n.logger = l } }

// WithPeerID pins the node identity, which is otherwise random per process.
func WithPeerID(id identity.PeerID) NodeOption {
	return func(n *nodeOptions) { n.peerID, n.hasPeerID = id, true }
}

// Node is one membership in one network.
type Node struct {
	cfg       config.NetworkConfig
	opts      *config.Options
	nc        *network.Context
	tr        transport.Transport
	resolver  *rendezvous.Resolver
	external  bool // resolver runs over a real rendezvous service
	bootstrap []netip.AddrPort
	mgr       *mesh.Manager
	device    tunnel.Device
	log       *logrus.Entry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool
}

// NewNode validates cfg and assembles the node. Nothing runs until Start.
func NewNode(cfg config.NetworkConfig, options ...NodeOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := nodeOptions{}
	for _, opt := range options {
		opt(&o)
	}
	if o.opts == nil {
		o.opts = config.DefaultOptions()
	}
	if err := o.opts.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger())
	}

	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	var ncOpts []network.Option
	if o.hasPeerID {
		ncOpts = append(ncOpts, network.WithPeerID(o.peerID))
	}
	ciphers, err := o.opts.CipherPreference()
	if err != nil {
		return nil, err
	}
	if len(ciphers) > 0 {
		ncOpts = append(ncOpts, network.WithCiphers(ciphers...))
	}
	nc, err := network.New(secret, ncOpts...)
	if err != nil {
		return nil, err
	}

	boot, err := static.Parse(o.opts.Bootstrap)
	if err != nil {
		return nil, err
	}
	bootstrap, _ := boot.GetPeers(context.Background(), nc.Topic())

	log := o.logger.WithFields(logrus.Fields{
		"network": cfg.Name,
		"node":    nc.LocalID().Short(),
	})

	tr := o.tr
	if tr == nil {
		tr, err = quic.Listen(o.opts.Listen, quic.Options{
			KeepAlivePeriod: o.opts.Keepalive.Interval,
			Logger:          log,
		})
		if err != nil {
			return nil, err
		}
	}

	hs, err := handshake.NewEngine(nc, handshake.Config{
		Timeout:      o.opts.Handshake.Timeout,
		ReplayWindow: o.opts.Handshake.ReplayWindow,
		ListenPort:   tr.Addr().Port(),
		Logger:       log,
	})
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	mgr := mesh.NewManager(nc, tr, hs, mesh.Config{
		MaxConcurrentAttempts: o.opts.Mesh.MaxAttempts,
		GossipInterval:        o.opts.Mesh.GossipInterval,
		RetryMin:              o.opts.Mesh.RetryMin,
		RetryMax:              o.opts.Mesh.RetryMax,
		AcceptRate:            rate.Limit(o.opts.Mesh.AcceptRate),
		Session: session.Config{
			KeepaliveInterval: o.opts.Keepalive.Interval,
			KeepaliveTimeout:  o.opts.Keepalive.Timeout,
		},
		Logger: log,
	})

	n := &Node{
		cfg:       cfg,
		opts:      o.opts,
		nc:        nc,
		tr:        tr,
		bootstrap: bootstrap,
		mgr:       mgr,
		device:    o.device,
		log:       log.WithField("component", "node"),
	}
	self := tr.Addr()
	if self.Addr().IsUnspecified() {
		self = netip.AddrPort{}
	}
	rvOpts := rendezvous.Options{
		AnnounceInterval:  o.opts.Rendezvous.AnnounceInterval,
		DiscoveryInterval: o.opts.Rendezvous.DiscoveryInterval,
		Self:              self,
		Logger:            log,
	}
	svc := o.svc
	if svc == nil {
		// Without a service, discovery re-resolves the bootstrap list so
		// unreachable entries keep being retried.
		svc = boot
		rvOpts.Source = rendezvous.SourceStatic
	}
	n.external = o.svc != nil
	n.resolver = rendezvous.NewResolver(svc, nc.Topic(), tr.Addr().Port(), rvOpts)
	return n, nil
}

// Start brings the device up and launches the mesh, announce and discovery
// loops. It returns once they are running.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.closed {
		return ErrStarted
	}
	if n.device != nil {
		if err := n.device.Up(n.cfg.Prefix()); err != nil {
			return err
		}
		n.mgr.OnPacket(func(from identity.PeerID, packet []byte) {
			if err := n.device.WritePacket(packet); err != nil {
				n.log.WithFields(logrus.Fields{
					"peer":  from.Short(),
					"error": err.Error(),
				}).Debug("Dropping packet")
			}
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.mgr.Run(gctx) })
	if n.external {
		g.Go(func() error { n.resolver.RunAnnouncer(gctx); return nil })
	}
	g.Go(func() error { n.resolver.RunDiscovery(gctx, n.mgr.AddCandidate); return nil })
	if !n.external && len(n.bootstrap) == 0 {
		n.log.Warn("No rendezvous service or bootstrap peers configured, waiting for inbound connections")
	}
	for _, addr := range n.bootstrap {
		n.mgr.AddCandidate(rendezvous.PeerCandidate{Addr: addr, Source: rendezvous.SourceStatic})
	}

	n.started = true
	n.cancel = cancel
	n.group = g
	n.log.WithFields(logrus.Fields{
		"listen": n.tr.Addr().String(),
		"topic":  n.nc.Topic().String(),
		"subnet": n.cfg.Prefix().String(),
	}).Info("Node started")
	return nil
}

// Wait blocks until the node stops and returns the first loop error.
func (n *Node) Wait() error {
	n.mu.Lock()
	g := n.group
	n.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

// Close stops every loop, closes all sessions and releases the transport
// and device.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	cancel, g := n.cancel, n.group
	n.mu.Unlock()

	var err error
	if g != nil {
		cancel()
		err = g.Wait()
	}
	err = errors.Join(err, n.tr.Close())
	if n.device != nil {
		err = errors.Join(err, n.device.Close())
	}
	n.log.Info("Node stopped")
	return err
}

func (n *Node) ID() identity.PeerID        { return n.nc.LocalID() }
func (n *Node) Topic() rendezvous.Topic    { return n.nc.Topic() }
func (n *Node) ListenAddr() netip.AddrPort { return n.tr.Addr() }

// Sessions returns the live sessions.
func (n *Node) Sessions() []*session.Session { return n.mgr.Sessions() }

// Peers returns every member this node has heard of.
func (n *Node) Peers() []mesh.ViewEntry { return n.mgr.Peers() }

// SendPacket sends one tunnel packet to a connected member.
func (n *Node) SendPacket(to identity.PeerID, packet []byte) error {
	return n.mgr.SendPacket(to, packet)
}
