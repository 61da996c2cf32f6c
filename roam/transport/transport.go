// Package transport defines the byte-stream connections the handshake and
// sessions run over.
package transport

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"time"
)

var ErrClosed = errors.New("transport: closed")

// Conn is one ordered, reliable byte stream to a remote address.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
}

// Transport both listens and dials from the same local address, so the
// announced port is also the source port of outgoing attempts.
type Transport interface {
	Dial(ctx context.Context, addr netip.AddrPort) (Conn, error)
	Accept(ctx context.Context) (Conn, error)
	Addr() netip.AddrPort
	Close() error
}
