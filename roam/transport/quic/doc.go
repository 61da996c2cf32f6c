// Package quic carries roam connections over QUIC: one bidirectional stream
// per connection, dialed and accepted on a single UDP socket.
package quic
