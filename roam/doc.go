// Package roam is a decentralized mesh VPN core.
//
// Every node that holds a network's access key finds the others through a
// rendezvous topic derived from that key, authenticates them with a
// MAC-protected ephemeral Diffie-Hellman handshake, and keeps one encrypted
// session per member. Membership spreads by gossip until the mesh is full.
//
// Node ties the pieces together: identity, rendezvous, handshake, session,
// mesh and tunnel. Each of those packages is usable on its own.
package roam
