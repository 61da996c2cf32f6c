package mesh

import (
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/rendezvous"
)

// candidateKey is the PeerID when known, else the address.
type candidateKey struct {
	id   identity.PeerID
	addr netip.AddrPort
}

func keyFor(id identity.PeerID, addr netip.AddrPort) candidateKey {
	if !id.IsZero() {
		return candidateKey{id: id}
	}
	return candidateKey{addr: addr}
}

type candidate struct {
	key      candidateKey
	addr     netip.AddrPort
	id       identity.PeerID
	source   rendezvous.Source
	bo       *backoff.ExponentialBackOff
	failures int
	nextAt   time.Time
	inFlight bool
	// self is set once an attempt reached this node itself.
	self bool
}

type candidateSet struct {
	mu               sync.Mutex
	byKey            map[candidateKey]*candidate
	minWait, maxWait time.Duration
}

func newCandidateSet(minWait, maxWait time.Duration) *candidateSet {
	return &candidateSet{byKey: map[candidateKey]*candidate{}, minWait: minWait, maxWait: maxWait}
}

func (cs *candidateSet) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cs.minWait
	bo.MaxInterval = cs.maxWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// backingOff reports whether the last attempt through c failed.
func (c *candidate) backingOff() bool { return c.failures > 0 }

// add inserts or refreshes a candidate. An existing entry keeps its backoff;
// only its address follows the newest report.
func (cs *candidateSet) add(pc rendezvous.PeerCandidate) bool {
	if !pc.Addr.IsValid() {
		return false
	}
	k := keyFor(pc.PeerID, pc.Addr)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.byKey[k]; ok {
		if c.addr != pc.Addr && !c.inFlight {
			c.addr = pc.Addr
		}
		return false
	}
	cs.byKey[k] = &candidate{
		key:    k,
		addr:   pc.Addr,
		id:     pc.PeerID,
		source: pc.Source,
		bo:     cs.newBackoff(),
	}
	return true
}

// claim returns the candidates eligible at now and marks them in flight.
// skip reports candidates that are already connected.
func (cs *candidateSet) claim(now time.Time, limit int, skip func(*candidate) bool) []candidate {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out []candidate
	for _, c := range cs.byKey {
		if len(out) >= limit {
			break
		}
		if c.inFlight || c.self || now.Before(c.nextAt) || skip(c) {
			continue
		}
		c.inFlight = true
		out = append(out, *c)
	}
	return out
}

// release returns an unstarted claim without touching its backoff.
func (cs *candidateSet) release(k candidateKey) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.byKey[k]; ok {
		c.inFlight = false
	}
}

// failed pushes the next attempt out and returns the delay.
func (cs *candidateSet) failed(k candidateKey, now time.Time) time.Duration {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byKey[k]
	if !ok {
		return 0
	}
	c.inFlight = false
	c.failures++
	d := c.bo.NextBackOff()
	c.nextAt = now.Add(d)
	return d
}

// markSelf retires a candidate that turned out to be this node.
func (cs *candidateSet) markSelf(k candidateKey) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.byKey[k]; ok {
		c.inFlight = false
		c.self = true
	}
}

// succeeded files k under the PeerID the handshake revealed, merging with an
// existing entry for that peer. A PeerID hint that named someone else is stale
// and is dropped.
func (cs *candidateSet) succeeded(k candidateKey, id identity.PeerID, addr netip.AddrPort) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if k != keyFor(id, addr) {
		delete(cs.byKey, k)
	}
	cs.connectedLocked(id, addr)
}

// connected records a live session to id, however it was established.
func (cs *candidateSet) connected(id identity.PeerID, addr netip.AddrPort) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.connectedLocked(id, addr)
}

func (cs *candidateSet) connectedLocked(id identity.PeerID, addr netip.AddrPort) {
	k := keyFor(id, addr)
	c, ok := cs.byKey[k]
	if !ok {
		c = &candidate{
			key:    k,
			id:     id,
			source: rendezvous.SourceGossip,
			bo:     cs.newBackoff(),
		}
		cs.byKey[k] = c
	}
	if addr.IsValid() {
		c.addr = addr
	}
	c.inFlight = false
	c.nextAt = time.Time{}
	c.failures = 0
	c.bo.Reset()
}

// prune drops idle PeerID candidates that keep reports false for and returns
// their IDs. Address-only candidates and attempts in flight are left alone.
func (cs *candidateSet) prune(keep func(identity.PeerID) bool) []identity.PeerID {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var gone []identity.PeerID
	for k, c := range cs.byKey {
		if k.id.IsZero() || c.inFlight || keep(k.id) {
			continue
		}
		delete(cs.byKey, k)
		gone = append(gone, k.id)
	}
	return gone
}

func (cs *candidateSet) get(k candidateKey) (candidate, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byKey[k]
	if !ok {
		return candidate{}, false
	}
	return *c, true
}

func (cs *candidateSet) len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.byKey)
}
