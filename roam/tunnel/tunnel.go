// Package tunnel is the contract between a node and the local virtual
// network interface. Creating real interfaces and routing is left to the
// platform; Memory stands in for tests and embedding.
package tunnel

import (
	"errors"
	"net/netip"
	"sync"
)

var (
	ErrClosed = errors.New("tunnel: device closed")
	ErrDown   = errors.New("tunnel: device not up")
)

// Device receives the packets peers send into the tunnel.
type Device interface {
	// Up configures the interface with the network's subnet.
	Up(prefix netip.Prefix) error
	// WritePacket injects one packet received from a peer.
	WritePacket(packet []byte) error
	Close() error
}

// Memory is a Device that queues packets for the caller to read.
type Memory struct {
	packets chan []byte

	mu     sync.Mutex
	prefix netip.Prefix
	up     bool
	closed bool
}

var _ Device = (*Memory)(nil)

// NewMemory buffers up to backlog packets; further writes drop.
func NewMemory(backlog int) *Memory {
	return &Memory{packets: make(chan []byte, backlog)}
}

func (m *Memory) Up(prefix netip.Prefix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.prefix = prefix
	m.up = true
	return nil
}

func (m *Memory) Prefix() netip.Prefix {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefix
}

func (m *Memory) WritePacket(packet []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.up {
		return ErrDown
	}
	select {
	case m.packets <- append([]byte(nil), packet...):
	default:
	}
	return nil
}

// Packets yields written packets until the device is closed.
func (m *Memory) Packets() <-chan []byte { return m.packets }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.packets)
	}
	return nil
}
