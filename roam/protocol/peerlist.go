package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/TheusHen/roam/roam/identity"
)

const (
	peerListRaw  byte = 0
	peerListLZ4  byte = 1
	compressFrom      = 512
)

// MaxPeerListEntries bounds one PEER_LIST frame.
const MaxPeerListEntries = 4096

var (
	ErrPeerListMalformed = errors.New("protocol: malformed peer list")
	ErrPeerListTooLarge  = errors.New("protocol: peer list too large")
)

// PeerEntry is one row of a gossiped peer list. Nothing in it is trusted;
// receivers only use it to find connection candidates.
type PeerEntry struct {
	PeerID   identity.PeerID
	Addr     netip.AddrPort
	LastSeen int64 // unix seconds
}

var lz4WriterPool = sync.Pool{
	New: func() any {
		return lz4.NewWriter(nil)
	},
}

var lz4ReaderPool = sync.Pool{
	New: func() any {
		return lz4.NewReader(nil)
	},
}

// EncodePeerList serializes entries. The payload starts with a flag byte;
// lists large enough to benefit are lz4-compressed when that is smaller.
//
// Body: count u16 | { peer_id [32] | addr_len u8 | addr [4|16] | port u16 | last_seen i64 }*
func EncodePeerList(entries []PeerEntry) ([]byte, error) {
	if len(entries) > MaxPeerListEntries {
		return nil, ErrPeerListTooLarge
	}
	body := make([]byte, 2, 2+len(entries)*(32+1+16+2+8))
	binary.BigEndian.PutUint16(body, uint16(len(entries)))
	for _, e := range entries {
		addr := e.Addr.Addr().Unmap()
		if !addr.IsValid() {
			return nil, ErrPeerListMalformed
		}
		body = append(body, e.PeerID[:]...)
		ab := addr.AsSlice()
		body = append(body, byte(len(ab)))
		body = append(body, ab...)
		body = binary.BigEndian.AppendUint16(body, e.Addr.Port())
		body = binary.BigEndian.AppendUint64(body, uint64(e.LastSeen))
	}

	if len(body) >= compressFrom {
		if packed, err := compress(body); err == nil && len(packed) < len(body) {
			return append([]byte{peerListLZ4}, packed...), nil
		}
	}
	return append([]byte{peerListRaw}, body...), nil
}

// DecodePeerList is the inverse of EncodePeerList.
func DecodePeerList(payload []byte) ([]PeerEntry, error) {
	if len(payload) < 1 {
		return nil, ErrPeerListMalformed
	}
	body := payload[1:]
	switch payload[0] {
	case peerListRaw:
	case peerListLZ4:
		var err error
		if body, err = decompress(body); err != nil {
			return nil, err
		}
	default:
		return nil, ErrPeerListMalformed
	}

	if len(body) < 2 {
		return nil, ErrPeerListMalformed
	}
	n := int(binary.BigEndian.Uint16(body))
	if n > MaxPeerListEntries {
		return nil, ErrPeerListTooLarge
	}
	body = body[2:]
	entries := make([]PeerEntry, 0, n)
	for i := 0; i < n; i++ {
		if len(body) < 33 {
			return nil, ErrPeerListMalformed
		}
		var e PeerEntry
		copy(e.PeerID[:], body[:32])
		alen := int(body[32])
		body = body[33:]
		if (alen != 4 && alen != 16) || len(body) < alen+10 {
			return nil, ErrPeerListMalformed
		}
		addr, _ := netip.AddrFromSlice(body[:alen])
		port := binary.BigEndian.Uint16(body[alen : alen+2])
		e.Addr = netip.AddrPortFrom(addr, port)
		e.LastSeen = int64(binary.BigEndian.Uint64(body[alen+2 : alen+10]))
		body = body[alen+10:]
		entries = append(entries, e)
	}
	if len(body) != 0 {
		return nil, ErrPeerListMalformed
	}
	return entries, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4WriterPool.Get().(*lz4.Writer)
	defer lz4WriterPool.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := lz4ReaderPool.Get().(*lz4.Reader)
	defer lz4ReaderPool.Put(r)
	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	// A gossip message never legitimately expands past one frame.
	n, err := io.Copy(&buf, io.LimitReader(r, MaxFramePayload+1))
	if err != nil {
		return nil, ErrPeerListMalformed
	}
	if n > MaxFramePayload {
		return nil, ErrPeerListTooLarge
	}
	return buf.Bytes(), nil
}
