package rendezvous

import (
	"context"
	"iter"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAnnounceInterval  = time.Minute
	DefaultDiscoveryInterval = 30 * time.Second
	DefaultMinBackoff        = time.Second
	DefaultMaxBackoff        = 2 * time.Minute
)

// Options tunes the announce and discovery loops. Zero fields take the
// defaults above.
type Options struct {
	// AnnounceInterval must stay below the service's announcement TTL.
	AnnounceInterval  time.Duration
	DiscoveryInterval time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration

	// Self is this node's public address when known. It is dropped from
	// lookup results.
	Self netip.AddrPort

	// Source labels the candidates this resolver yields. Defaults to
	// SourceRendezvous.
	Source Source

	Logger *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.AnnounceInterval <= 0 {
		o.AnnounceInterval = DefaultAnnounceInterval
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = DefaultMinBackoff
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = DefaultMaxBackoff
		if o.MaxBackoff < o.MinBackoff {
			o.MaxBackoff = o.MinBackoff
		}
	}
	if o.Source == 0 {
		o.Source = SourceRendezvous
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Resolver announces this node under the network topic and looks up the
// other members.
type Resolver struct {
	svc   Service
	topic Topic
	port  uint16
	opts  Options
	log   *logrus.Entry

	// seen holds every address yielded so far; a round that adds nothing
	// to it counts as unproductive.
	seen mapset.Set[netip.AddrPort]
}

// NewResolver binds svc to one network topic. port is the local listen port
// that gets announced.
func NewResolver(svc Service, topic Topic, port uint16, opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		svc:   svc,
		topic: topic,
		port:  port,
		opts:  opts,
		log: opts.Logger.WithFields(logrus.Fields{
			"component": "rendezvous",
			"topic":     topic.String()[:8],
		}),
		seen: mapset.NewSet[netip.AddrPort](),
	}
}

func (r *Resolver) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.MinBackoff
	bo.MaxInterval = r.opts.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()
	return bo
}

// Topic returns the topic this resolver works on.
func (r *Resolver) Topic() Topic { return r.topic }

// Announce publishes this node once.
func (r *Resolver) Announce(ctx context.Context) error {
	if err := r.svc.Announce(ctx, r.topic, r.port); err != nil {
		return &DiscoveryError{Op: "announce", Topic: r.topic, Err: err}
	}
	r.log.WithField("port", r.port).Debug("Announced")
	return nil
}

// RunAnnouncer announces immediately and then every AnnounceInterval until
// ctx is done. Failures are retried with backoff.
func (r *Resolver) RunAnnouncer(ctx context.Context) {
	bo := r.newBackoff()
	for {
		wait := r.opts.AnnounceInterval
		if err := r.Announce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = bo.NextBackOff()
			r.log.WithFields(logrus.Fields{
				"error": err.Error(),
				"retry": wait,
			}).Warn("Announce failed")
		} else {
			bo.Reset()
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// FindPeers runs one lookup. An empty result is not an error.
func (r *Resolver) FindPeers(ctx context.Context) (iter.Seq[PeerCandidate], error) {
	addrs, err := r.svc.GetPeers(ctx, r.topic)
	if err != nil {
		return nil, &DiscoveryError{Op: "get_peers", Topic: r.topic, Err: err}
	}
	return func(yield func(PeerCandidate) bool) {
		for _, a := range addrs {
			if !a.IsValid() || a.Port() == 0 || a == r.opts.Self {
				continue
			}
			if !yield(PeerCandidate{Addr: a, Source: r.opts.Source}) {
				return
			}
		}
	}, nil
}

// RunDiscovery looks up peers until ctx is done and hands every candidate to
// sink. A round that fails or finds no new address pushes the next round out
// exponentially; a productive round resets to DiscoveryInterval.
func (r *Resolver) RunDiscovery(ctx context.Context, sink func(PeerCandidate)) {
	bo := r.newBackoff()
	for {
		fresh, err := r.round(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		wait := r.opts.DiscoveryInterval
		switch {
		case err != nil:
			wait = bo.NextBackOff()
			r.log.WithFields(logrus.Fields{
				"error": err.Error(),
				"retry": wait,
			}).Warn("Peer lookup failed")
		case fresh == 0:
			wait = bo.NextBackOff()
			r.log.WithField("retry", wait).Debug("Peer lookup found nothing new")
		default:
			bo.Reset()
			r.log.WithField("new", fresh).Info("Found peers")
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (r *Resolver) round(ctx context.Context, sink func(PeerCandidate)) (int, error) {
	peers, err := r.FindPeers(ctx)
	if err != nil {
		return 0, err
	}
	fresh := 0
	for c := range peers {
		if r.seen.Add(c.Addr) {
			fresh++
		}
		sink(c)
	}
	return fresh, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
