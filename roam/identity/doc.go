// Package identity holds the network key model: the ed25519 network secret,
// its textual encoding, and the per-node PeerID.
//
// The access key (public half) lets a node join; the control key (private half)
// is required only to sign network parameters.
package identity
