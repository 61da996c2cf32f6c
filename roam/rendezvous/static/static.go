// Package static is a rendezvous service backed by a fixed list of
// bootstrap addresses. Announce is a no-op.
package static

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/TheusHen/roam/roam/rendezvous"
)

// Service returns the same addresses for every topic.
type Service struct {
	addrs []netip.AddrPort
}

func New(addrs ...netip.AddrPort) *Service {
	return &Service{addrs: append([]netip.AddrPort(nil), addrs...)}
}

// Parse builds a Service from "host:port" strings. Empty entries are skipped.
func Parse(list []string) (*Service, error) {
	var addrs []netip.AddrPort
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("static: bootstrap address %q: %w", s, err)
		}
		addrs = append(addrs, ap)
	}
	return New(addrs...), nil
}

func (s *Service) Announce(ctx context.Context, _ rendezvous.Topic, _ uint16) error {
	return ctx.Err()
}

func (s *Service) GetPeers(ctx context.Context, _ rendezvous.Topic) ([]netip.AddrPort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]netip.AddrPort(nil), s.addrs...), nil
}
