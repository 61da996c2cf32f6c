package mesh

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/TheusHen/roam/roam/handshake"
	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/network"
	"github.com/TheusHen/roam/roam/rendezvous"
	"github.com/TheusHen/roam/roam/session"
	"github.com/TheusHen/roam/roam/transport/mem"
)

type testNode struct {
	nc     *network.Context
	tr     *mem.Transport
	m      *Manager
	cancel context.CancelFunc
	done   chan error
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func startNode(t *testing.T, n *mem.Network, secret identity.NetworkSecret, addr string) *testNode {
	t.Helper()
	nc, err := network.New(secret)
	require.NoError(t, err)
	tr, err := n.Listen(netip.MustParseAddrPort(addr))
	require.NoError(t, err)
	hs, err := handshake.NewEngine(nc, handshake.Config{
		Timeout:    2 * time.Second,
		ListenPort: tr.Addr().Port(),
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	m := NewManager(nc, tr, hs, Config{
		DispatchInterval: 20 * time.Millisecond,
		GossipInterval:   100 * time.Millisecond,
		RetryMin:         20 * time.Millisecond,
		RetryMax:         200 * time.Millisecond,
		PeerTTL:          2 * time.Second,
		Session: session.Config{
			KeepaliveInterval: 50 * time.Millisecond,
			KeepaliveTimeout:  400 * time.Millisecond,
		},
		Logger: quietLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	tn := &testNode{nc: nc, tr: tr, m: m, cancel: cancel, done: make(chan error, 1)}
	go func() { tn.done <- m.Run(ctx) }()
	return tn
}

func (tn *testNode) stop() {
	tn.cancel()
	<-tn.done
	_ = tn.tr.Close()
}

func (tn *testNode) candidate() rendezvous.PeerCandidate {
	return rendezvous.PeerCandidate{Addr: tn.tr.Addr(), Source: rendezvous.SourceStatic}
}

func (tn *testNode) connectedTo(ids ...identity.PeerID) bool {
	for _, id := range ids {
		s, ok := tn.m.table.Get(id)
		if !ok || s.Err() != nil {
			return false
		}
	}
	return true
}

func newSecret(t *testing.T) identity.NetworkSecret {
	t.Helper()
	s, err := identity.GenerateNetworkSecret(nil)
	require.NoError(t, err)
	return s
}

func TestMeshConverges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	secret := newSecret(t)
	n := mem.NewNetwork()
	var nodes []*testNode
	for i := 0; i < 5; i++ {
		nodes = append(nodes, startNode(t, n, secret, fmt.Sprintf("10.0.0.%d:4000", i+1)))
	}
	defer func() {
		for _, tn := range nodes {
			tn.stop()
		}
	}()

	// Each node only knows its predecessor; gossip has to fill in the rest.
	for i := 1; i < len(nodes); i++ {
		nodes[i].m.AddCandidate(nodes[i-1].candidate())
	}

	require.Eventually(t, func() bool {
		for i, tn := range nodes {
			for j, other := range nodes {
				if i != j && !tn.connectedTo(other.nc.LocalID()) {
					return false
				}
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "mesh did not converge")

	for _, tn := range nodes {
		assert.Len(t, tn.m.Sessions(), len(nodes)-1)
		assert.Len(t, tn.m.Peers(), len(nodes)-1)
	}

	got := make(chan identity.PeerID, 1)
	nodes[4].m.OnPacket(func(from identity.PeerID, p []byte) {
		if string(p) == "ping" {
			got <- from
		}
	})
	require.NoError(t, nodes[0].m.SendPacket(nodes[4].nc.LocalID(), []byte("ping")))
	select {
	case from := <-got:
		assert.Equal(t, nodes[0].nc.LocalID(), from)
	case <-time.After(2 * time.Second):
		t.Fatal("packet not delivered")
	}
	assert.ErrorIs(t, nodes[0].m.SendPacket(identity.PeerID{9}, nil), ErrNoSession)
}

func TestMeshSimultaneousDialKeepsOneSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	secret := newSecret(t)
	n := mem.NewNetwork()
	a := startNode(t, n, secret, "10.0.0.1:4000")
	b := startNode(t, n, secret, "10.0.0.2:4000")
	defer a.stop()
	defer b.stop()

	a.m.AddCandidate(b.candidate())
	b.m.AddCandidate(a.candidate())

	require.Eventually(t, func() bool {
		return a.connectedTo(b.nc.LocalID()) && b.connectedTo(a.nc.LocalID()) &&
			a.m.table.Len() == 1 && b.m.table.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	sa, _ := a.m.table.Get(b.nc.LocalID())
	sb, _ := b.m.table.Get(a.nc.LocalID())

	// Both ends must have kept the same connection, or each would have
	// closed the other's and the sessions would be gone by now.
	time.Sleep(600 * time.Millisecond)
	nowA, ok := a.m.table.Get(b.nc.LocalID())
	require.True(t, ok)
	nowB, ok := b.m.table.Get(a.nc.LocalID())
	require.True(t, ok)
	assert.Same(t, sa, nowA)
	assert.Same(t, sb, nowB)
	assert.NoError(t, sa.Err())
	assert.NoError(t, sb.Err())
	assert.Equal(t, sa.Cipher(), sb.Cipher())

	// Each end decrypts what the other encrypts: a's send key is b's
	// receive key and the other way round.
	atA, atB := make(chan string, 1), make(chan string, 1)
	a.m.OnPacket(func(_ identity.PeerID, p []byte) { atA <- string(p) })
	b.m.OnPacket(func(_ identity.PeerID, p []byte) { atB <- string(p) })
	require.NoError(t, a.m.SendPacket(b.nc.LocalID(), []byte("a to b")))
	require.NoError(t, b.m.SendPacket(a.nc.LocalID(), []byte("b to a")))
	for _, want := range []struct {
		ch  chan string
		msg string
	}{{atB, "a to b"}, {atA, "b to a"}} {
		select {
		case got := <-want.ch:
			assert.Equal(t, want.msg, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("%q not delivered", want.msg)
		}
	}
	nowA, _ = a.m.table.Get(b.nc.LocalID())
	assert.Same(t, sa, nowA)
}

func TestMeshDropsLostPeerButRemembersIt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	secret := newSecret(t)
	n := mem.NewNetwork()
	a := startNode(t, n, secret, "10.0.0.1:4000")
	b := startNode(t, n, secret, "10.0.0.2:4000")
	c := startNode(t, n, secret, "10.0.0.3:4000")
	defer a.stop()
	defer b.stop()

	b.m.AddCandidate(a.candidate())
	c.m.AddCandidate(a.candidate())
	require.Eventually(t, func() bool {
		return a.connectedTo(b.nc.LocalID(), c.nc.LocalID()) &&
			b.connectedTo(a.nc.LocalID(), c.nc.LocalID()) &&
			c.connectedTo(a.nc.LocalID(), b.nc.LocalID())
	}, 5*time.Second, 20*time.Millisecond)

	// Closing the transport first makes c vanish without a CLOSE frame.
	_ = c.tr.Close()
	c.stop()

	require.Eventually(t, func() bool {
		_, inA := a.m.table.Get(c.nc.LocalID())
		_, inB := b.m.table.Get(c.nc.LocalID())
		return !inA && !inB
	}, 5*time.Second, 20*time.Millisecond)

	e, ok := a.m.view.Get(c.nc.LocalID())
	require.True(t, ok, "lost peer stays in the view")
	assert.Equal(t, c.tr.Addr(), e.Addr)
	assert.True(t, a.connectedTo(b.nc.LocalID()))
}

func TestMeshForgetsRestartedPeer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	secret := newSecret(t)
	n := mem.NewNetwork()
	a := startNode(t, n, secret, "10.0.0.1:4000")
	b := startNode(t, n, secret, "10.0.0.2:4000")
	defer a.stop()

	a.m.AddCandidate(b.candidate())
	require.Eventually(t, func() bool {
		return a.connectedTo(b.nc.LocalID()) && b.connectedTo(a.nc.LocalID())
	}, 5*time.Second, 10*time.Millisecond)
	oldID := b.nc.LocalID()

	// Same address, new process, new PeerID.
	b.stop()
	b = startNode(t, n, secret, "10.0.0.2:4000")
	defer b.stop()
	require.NotEqual(t, oldID, b.nc.LocalID())

	require.Eventually(t, func() bool {
		return a.connectedTo(b.nc.LocalID())
	}, 5*time.Second, 10*time.Millisecond, "restarted peer not reconnected")
	require.Eventually(t, func() bool {
		_, inView := a.m.view.Get(oldID)
		_, isCandidate := a.m.cands.get(keyFor(oldID, netip.AddrPort{}))
		return !inView && !isCandidate
	}, 10*time.Second, 20*time.Millisecond, "old PeerID never expired")

	for _, e := range a.m.Peers() {
		assert.NotEqual(t, oldID, e.PeerID)
	}
	assert.Len(t, a.m.Sessions(), 1)
}

func TestMeshIgnoresForeignNetwork(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := mem.NewNetwork()
	a := startNode(t, n, newSecret(t), "10.0.0.1:4000")
	b := startNode(t, n, newSecret(t), "10.0.0.2:4000")
	defer a.stop()
	defer b.stop()

	a.m.AddCandidate(b.candidate())
	k := keyFor(identity.PeerID{}, b.tr.Addr())
	require.Eventually(t, func() bool {
		c, ok := a.m.cands.get(k)
		return ok && c.backingOff()
	}, 5*time.Second, 10*time.Millisecond, "failed attempt did not back off")
	assert.Empty(t, a.m.Sessions())
	assert.Empty(t, b.m.Sessions())
}

func TestMeshRetiresOwnAddress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := mem.NewNetwork()
	a := startNode(t, n, newSecret(t), "10.0.0.1:4000")
	defer a.stop()

	a.m.AddCandidate(a.candidate())
	k := keyFor(identity.PeerID{}, a.tr.Addr())
	require.Eventually(t, func() bool {
		c, ok := a.m.cands.get(k)
		return ok && c.self
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.m.Sessions())
}
