package crypto

import (
	"github.com/klauspost/cpuid/v2"
)

// hasAESHardware is a variable so tests can pin the detected platform.
var hasAESHardware = func() bool {
	return cpuid.CPU.Supports(cpuid.AESNI) || cpuid.CPU.Supports(cpuid.AESARM)
}

// LocalPreference ranks the supported ciphers for this host. AES-OCB comes
// first only when the CPU accelerates AES.
func LocalPreference() []CipherID {
	if hasAESHardware() {
		return []CipherID{CipherAESOCB, CipherChaCha20Poly1305}
	}
	return []CipherID{CipherChaCha20Poly1305, CipherAESOCB}
}

// Negotiate picks the first cipher of the initiator's ranking that the
// responder also offers. Unknown IDs are ignored on both sides.
func Negotiate(initiator, responder []CipherID) (CipherID, error) {
	offered := make(map[CipherID]struct{}, len(responder))
	for _, c := range responder {
		if c.Known() {
			offered[c] = struct{}{}
		}
	}
	for _, c := range initiator {
		if _, ok := offered[c]; ok && c.Known() {
			return c, nil
		}
	}
	return 0, ErrNoCommonCipher
}
