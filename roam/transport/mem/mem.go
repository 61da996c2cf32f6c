// Package mem is an in-process transport over net.Pipe, addressed by
// netip.AddrPort. It is meant for tests and simulations.
package mem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/TheusHen/roam/roam/transport"
)

var ErrUnreachable = errors.New("mem: address unreachable")

// Network is a set of transports that can reach each other.
type Network struct {
	mu    sync.Mutex
	nodes map[netip.AddrPort]*Transport
	next  uint16
}

func NewNetwork() *Network {
	return &Network{nodes: map[netip.AddrPort]*Transport{}, next: 10000}
}

// Listen attaches a transport at addr. A zero port picks a free one.
func (n *Network) Listen(addr netip.AddrPort) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr.Port() == 0 {
		for {
			n.next++
			candidate := netip.AddrPortFrom(addr.Addr(), n.next)
			if _, taken := n.nodes[candidate]; !taken {
				addr = candidate
				break
			}
		}
	}
	if _, taken := n.nodes[addr]; taken {
		return nil, fmt.Errorf("mem: address %s in use", addr)
	}
	t := &Transport{
		net:      n,
		addr:     addr,
		incoming: make(chan transport.Conn, 16),
		done:     make(chan struct{}),
		conns:    map[*Conn]struct{}{},
	}
	n.nodes[addr] = t
	return t, nil
}

func (n *Network) lookup(addr netip.AddrPort) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[addr]
}

func (n *Network) remove(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// Transport is one endpoint of a Network.
type Transport struct {
	net      *Network
	addr     netip.AddrPort
	incoming chan transport.Conn
	done     chan struct{}

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Addr() netip.AddrPort { return t.addr }

func (t *Transport) Dial(ctx context.Context, addr netip.AddrPort) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	remote := t.net.lookup(addr)
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}
	a, b := net.Pipe()
	local := t.track(a, t.addr, addr)
	if local == nil {
		_ = b.Close()
		return nil, transport.ErrClosed
	}
	peer := remote.track(b, addr, t.addr)
	if peer == nil {
		_ = local.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}
	select {
	case remote.incoming <- peer:
		return local, nil
	case <-remote.done:
	case <-ctx.Done():
	}
	_ = local.Close()
	_ = peer.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnreachable, addr)
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

// Close detaches the transport and breaks every connection it holds, which
// looks to peers like the node vanished.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conns := make([]*Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	t.net.remove(t.addr)
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (t *Transport) track(p net.Conn, local, remote netip.AddrPort) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	c := &Conn{Conn: p, owner: t, local: local, remote: remote}
	t.conns[c] = struct{}{}
	return c
}

func (t *Transport) untrack(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}

// Conn is one side of a pipe.
type Conn struct {
	net.Conn
	owner         *Transport
	local, remote netip.AddrPort
	once          sync.Once
}

func (c *Conn) LocalAddr() netip.AddrPort  { return c.local }
func (c *Conn) RemoteAddr() netip.AddrPort { return c.remote }

func (c *Conn) SetDeadline(t time.Time) error { return c.Conn.SetDeadline(t) }

func (c *Conn) Close() error {
	c.once.Do(func() { c.owner.untrack(c) })
	return c.Conn.Close()
}
