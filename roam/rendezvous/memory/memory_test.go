package memory

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/TheusHen/roam/roam/rendezvous"
)

func TestStoreAnnounceGetPeers(t *testing.T) {
	s := New(time.Minute)
	topic := rendezvous.TopicFor([]byte("network"))
	other := rendezvous.TopicFor([]byte("other"))
	ctx := context.Background()

	a := s.Client(netip.MustParseAddr("10.0.0.1"))
	b := s.Client(netip.MustParseAddr("2001:db8::1"))
	if err := a.Announce(ctx, topic, 4000); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := b.Announce(ctx, topic, 4001); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := b.Announce(ctx, other, 4001); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	got, err := a.GetPeers(ctx, topic)
	if err != nil {
		t.Fatalf("GetPeers: %v", err)
	}
	want := map[netip.AddrPort]bool{
		netip.MustParseAddrPort("10.0.0.1:4000"):      true,
		netip.MustParseAddrPort("[2001:db8::1]:4001"): true,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d peers, want %d", len(got), len(want))
	}
	for _, p := range got {
		if !want[p] {
			t.Fatalf("unexpected peer %s", p)
		}
	}

	none, err := a.GetPeers(ctx, rendezvous.TopicFor([]byte("missing")))
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no peers, got %v %v", none, err)
	}
}

func TestStoreExpiry(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	topic := rendezvous.TopicFor([]byte("network"))
	c := s.Client(netip.MustParseAddr("10.0.0.1"))
	_ = c.Announce(context.Background(), topic, 4000)

	now = now.Add(59 * time.Second)
	if got, _ := c.GetPeers(context.Background(), topic); len(got) != 1 {
		t.Fatalf("announcement expired early")
	}
	now = now.Add(2 * time.Second)
	if got, _ := c.GetPeers(context.Background(), topic); len(got) != 0 {
		t.Fatalf("announcement did not expire")
	}
}

func TestStoreCancelledContext(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := s.Client(netip.MustParseAddr("10.0.0.1"))
	if err := c.Announce(ctx, rendezvous.Topic{}, 1); err == nil {
		t.Fatalf("expected context error")
	}
}
