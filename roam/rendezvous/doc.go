// Package rendezvous maps a network's access key to a public meeting point
// and turns announcements found there into connection candidates.
//
// The topic is RIPEMD160 of the access key, so every holder of the key
// computes the same value without coordination. The discovery service
// itself (DHT, tracker, static list) sits behind the Service interface;
// nothing it returns is trusted. Authentication happens in the handshake.
package rendezvous
