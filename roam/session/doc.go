// Package session runs established peer connections: every frame sealed by
// a per-direction SecureChannel, keepalives, and loss detection. Table
// enforces one session per peer.
package session
