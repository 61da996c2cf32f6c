package rendezvous

import (
	"encoding/hex"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the topic format is fixed to RIPEMD160
)

// TopicSize is the length of a rendezvous topic.
const TopicSize = ripemd160.Size

// Topic is the 20-byte key under which network members announce themselves.
type Topic [TopicSize]byte

// TopicFor derives the rendezvous topic from an access key.
func TopicFor(accessKey []byte) Topic {
	h := ripemd160.New()
	h.Write(accessKey)
	var t Topic
	copy(t[:], h.Sum(nil))
	return t
}

func (t Topic) String() string { return hex.EncodeToString(t[:]) }
