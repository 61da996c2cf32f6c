// Package mesh turns pairwise sessions into a full mesh. The Manager keeps
// a set of connection candidates fed by rendezvous, gossip and static
// configuration, dials them with bounded concurrency and per-candidate
// backoff, accepts inbound attempts, and gossips its View of the network to
// every connected peer so that members that never met through rendezvous
// still find each other.
//
// Gossip is never a trust source: everything learned from it only becomes
// a session after a full handshake.
package mesh
