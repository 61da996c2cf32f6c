package session

import (
	"bytes"
	"errors"
	"sync"

	"github.com/TheusHen/roam/roam/identity"
)

var ErrTableClosed = errors.New("session: table closed")

// Table holds at most one live session per remote PeerID. All operations
// are atomic; the lock is never held across I/O, so losers are returned to
// the caller for closing.
type Table struct {
	mu       sync.Mutex
	sessions map[identity.PeerID]*Session
	closed   bool
}

// NewTable returns an empty table. A second live session to the same peer
// is resolved by tie-break alone, so both ends always keep the same one.
func NewTable() *Table {
	return &Table{sessions: map[identity.PeerID]*Session{}}
}

// Insert offers s to the table. When s is kept, evicted is the session it
// displaced (nil if none). When s loses, kept is false and evicted is nil.
func (t *Table) Insert(s *Session) (kept bool, evicted *Session, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false, nil, ErrTableClosed
	}
	cur, ok := t.sessions[s.remoteID]
	if !ok || cur.Err() != nil {
		t.sessions[s.remoteID] = s
		return true, nil, nil
	}
	if !prefer(s, cur) {
		return false, nil, nil
	}
	t.sessions[s.remoteID] = s
	return true, cur, nil
}

// prefer reports whether candidate should replace the live session cur.
// Both ends of a connection see the same tie-break bytes. Local creation
// times differ between the ends and are not consulted; a restarted peer whose
// new session loses waits for the old one to fail its keepalive.
func prefer(candidate, cur *Session) bool {
	return bytes.Compare(candidate.tieBreak, cur.tieBreak) > 0
}

// Remove deletes the entry for id only if it is still s.
func (t *Table) Remove(id identity.PeerID, s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[id]; ok && cur == s {
		delete(t.sessions, id)
		return true
	}
	return false
}

func (t *Table) Get(id identity.PeerID) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Has reports whether a live session to id exists.
func (t *Table) Has(id identity.PeerID) bool {
	s, ok := t.Get(id)
	return ok && s.Err() == nil
}

func (t *Table) Snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Close empties the table, closes every session and refuses new inserts.
func (t *Table) Close() {
	t.mu.Lock()
	t.closed = true
	all := make([]*Session, 0, len(t.sessions))
	for id, s := range t.sessions {
		all = append(all, s)
		delete(t.sessions, id)
	}
	t.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
}
