package mesh

import (
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/protocol"
)

// ViewEntry is what this node believes about one member.
type ViewEntry struct {
	PeerID   identity.PeerID
	Addr     netip.AddrPort
	LastSeen time.Time
}

// View maps PeerID to the last known address of every member this node has
// heard of, directly or through gossip.
type View struct {
	mu      sync.Mutex
	entries map[identity.PeerID]ViewEntry
}

func NewView() *View {
	return &View{entries: map[identity.PeerID]ViewEntry{}}
}

// Merge records e, keeping whichever of the old and new entries was seen
// more recently. It reports whether the view changed.
func (v *View) Merge(e ViewEntry) bool {
	if e.PeerID.IsZero() || !e.Addr.IsValid() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.entries[e.PeerID]
	if ok && !e.LastSeen.After(cur.LastSeen) {
		return false
	}
	v.entries[e.PeerID] = e
	return true
}

func (v *View) Get(id identity.PeerID) (ViewEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[id]
	return e, ok
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

func (v *View) Snapshot() []ViewEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]ViewEntry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, e)
	}
	return out
}

// Expire removes entries last seen before cutoff, except those live reports
// true for, and returns the removed IDs.
func (v *View) Expire(cutoff time.Time, live func(identity.PeerID) bool) []identity.PeerID {
	v.mu.Lock()
	defer v.mu.Unlock()
	var gone []identity.PeerID
	for id, e := range v.entries {
		if !e.LastSeen.Before(cutoff) || (live != nil && live(id)) {
			continue
		}
		delete(v.entries, id)
		gone = append(gone, id)
	}
	return gone
}

// peerList encodes the view for gossip, leaving out the recipient. Only the
// most recently seen entries that fit one frame are sent.
func (v *View) peerList(exclude identity.PeerID) []protocol.PeerEntry {
	v.mu.Lock()
	entries := make([]ViewEntry, 0, len(v.entries))
	for id, e := range v.entries {
		if id != exclude {
			entries = append(entries, e)
		}
	}
	v.mu.Unlock()

	if len(entries) > protocol.MaxPeerListEntries {
		slices.SortFunc(entries, func(a, b ViewEntry) int {
			return b.LastSeen.Compare(a.LastSeen)
		})
		entries = entries[:protocol.MaxPeerListEntries]
	}
	out := make([]protocol.PeerEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.PeerEntry{PeerID: e.PeerID, Addr: e.Addr, LastSeen: e.LastSeen.Unix()}
	}
	return out
}
