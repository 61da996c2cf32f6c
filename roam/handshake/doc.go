// Package handshake runs the authenticated key exchange between two
// members of a network.
//
// Both sides send a hello carrying a fresh X25519 value and their cipher
// ranking, authenticated with a MAC keyed from the access key. After both
// hellos verify, the initiator's ranking picks the cipher, the DH output is
// expanded over the hello transcript, and a CONFIRM exchange proves both
// sides derived the same keys. Ephemeral secrets are wiped on every exit
// path.
//
//	INIT -> HELLO_SENT -> HELLO_RECEIVED -> KEY_DERIVED -> AUTHENTICATED -> ESTABLISHED
//	any non-terminal state -> FAILED
package handshake
