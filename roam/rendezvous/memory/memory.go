package memory

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/TheusHen/roam/roam/rendezvous"
)

// DefaultTTL is how long an announcement stays visible.
const DefaultTTL = 3 * time.Minute

// Store is an in-memory rendezvous service shared by several nodes.
// It is useful for tests, examples and embedding in applications.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	topics map[rendezvous.Topic]map[netip.AddrPort]time.Time
}

// New returns an empty store. ttl <= 0 means DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:    ttl,
		now:    time.Now,
		topics: map[rendezvous.Topic]map[netip.AddrPort]time.Time{},
	}
}

// Client returns the view of the store from a node at host. Announcements
// made through it are recorded under host, the way a public DHT records the
// source address of the announcing packet.
func (s *Store) Client(host netip.Addr) rendezvous.Service {
	return &client{store: s, host: host}
}

func (s *Store) announce(topic rendezvous.Topic, addr netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers, ok := s.topics[topic]
	if !ok {
		peers = map[netip.AddrPort]time.Time{}
		s.topics[topic] = peers
	}
	peers[addr] = s.now().Add(s.ttl)
}

func (s *Store) peers(topic rendezvous.Topic) []netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	peers := s.topics[topic]
	out := make([]netip.AddrPort, 0, len(peers))
	for addr, expires := range peers {
		if now.After(expires) {
			delete(peers, addr)
			continue
		}
		out = append(out, addr)
	}
	return out
}

type client struct {
	store *Store
	host  netip.Addr
}

func (c *client) Announce(ctx context.Context, topic rendezvous.Topic, port uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.announce(topic, netip.AddrPortFrom(c.host, port))
	return nil
}

func (c *client) GetPeers(ctx context.Context, topic rendezvous.Topic) ([]netip.AddrPort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.store.peers(topic), nil
}
