package handshake

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TheusHen/roam/roam/protocol"
)

// replayCache remembers recently accepted hello nonces. Entries older than
// the timestamp window are rejected by the clock check anyway, so the cache
// only has to cover one window's worth of attempts.
type replayCache struct {
	seen *lru.Cache[[protocol.HelloNonceSize]byte, struct{}]
}

func newReplayCache(size int) (*replayCache, error) {
	c, err := lru.New[[protocol.HelloNonceSize]byte, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &replayCache{seen: c}, nil
}

// observe records nonce and reports whether it was new.
func (r *replayCache) observe(nonce [protocol.HelloNonceSize]byte) bool {
	found, _ := r.seen.ContainsOrAdd(nonce, struct{}{})
	return !found
}
