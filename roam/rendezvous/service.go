package rendezvous

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/TheusHen/roam/roam/identity"
)

// Service is a public discovery mechanism. Implementations can be backed by
// a DHT, a tracker, a bootstrap list, etc.
//
// Announce publishes the caller under topic; the service observes the
// caller's public address itself, only the port is supplied. Announcements
// expire, so callers re-announce periodically.
type Service interface {
	Announce(ctx context.Context, topic Topic, port uint16) error
	GetPeers(ctx context.Context, topic Topic) ([]netip.AddrPort, error)
}

// Source records where a candidate came from.
type Source uint8

const (
	SourceRendezvous Source = iota + 1
	SourceGossip
	SourceStatic
)

func (s Source) String() string {
	switch s {
	case SourceRendezvous:
		return "rendezvous"
	case SourceGossip:
		return "gossip"
	case SourceStatic:
		return "static"
	default:
		return "unknown"
	}
}

// PeerCandidate is an address that may belong to a network member. PeerID
// is a hint only, zero when unknown.
type PeerCandidate struct {
	Addr   netip.AddrPort
	PeerID identity.PeerID
	Source Source
}

// DiscoveryError is returned when the discovery service could not be
// reached or rejected a request.
type DiscoveryError struct {
	Op    string
	Topic Topic
	Err   error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("rendezvous: %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
