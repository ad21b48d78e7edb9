// Package presence tracks which collaborators currently have a
// setlist open and which joke each one is editing. Presence is
// advisory, eventually-consistent metadata: it never gates a mutation
// and never blocks the document stream.
package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a collaborator stays active without a
// heartbeat before being evicted.
const DefaultTTL = 30 * time.Second

// Collaborator is one live participant on a setlist view.
type Collaborator struct {
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	EditingJokeID string    `json:"editingJokeId,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeatAt"`
}

// Tracker owns the live collaborator set for a single open setlist
// view. Entries expire lazily on read, and Sweep offers the periodic
// variant; both share one eviction routine so an ungracefully
// disconnected user disappears within one TTL window.
type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	members map[string]*Collaborator
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:     ttl,
		now:     time.Now,
		members: make(map[string]*Collaborator),
	}
}

// Join registers a collaborator, refreshing the entry if it exists.
func (t *Tracker) Join(userID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.members[userID]
	if m == nil {
		m = &Collaborator{UserID: userID}
		t.members[userID] = m
	}
	m.DisplayName = displayName
	m.LastHeartbeat = t.now()
}

// Heartbeat refreshes a collaborator's liveness. A heartbeat from an
// unknown user recreates the entry; its display name follows on the
// next join event.
func (t *Tracker) Heartbeat(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.members[userID]
	if m == nil {
		m = &Collaborator{UserID: userID}
		t.members[userID] = m
	}
	m.LastHeartbeat = t.now()
}

// SetEditing records which joke a user is editing; empty jokeID
// clears the focus. Last write wins per user.
func (t *Tracker) SetEditing(userID, jokeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.members[userID]; m != nil {
		m.EditingJokeID = jokeID
		m.LastHeartbeat = t.now()
	}
}

// Leave removes a collaborator immediately.
func (t *Tracker) Leave(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.members, userID)
}

// ActiveUsers returns live collaborators sorted by user id.
func (t *Tracker) ActiveUsers() []Collaborator {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictStale()
	out := make([]Collaborator, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// EditorsOf returns the ids of live users currently editing jokeID.
func (t *Tracker) EditorsOf(jokeID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictStale()
	var out []string
	for _, m := range t.members {
		if m.EditingJokeID == jokeID {
			out = append(out, m.UserID)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep evicts stale entries eagerly. Optional: reads evict lazily
// anyway.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictStale()
}

func (t *Tracker) evictStale() {
	cutoff := t.now().Add(-t.ttl)
	for id, m := range t.members {
		if m.LastHeartbeat.Before(cutoff) {
			delete(t.members, id)
		}
	}
}

// ApplyEvent folds one channel event into the tracker.
func (t *Tracker) ApplyEvent(ev Event) {
	switch ev.Type {
	case EventJoin:
		t.Join(ev.UserID, ev.DisplayName)
	case EventHeartbeat:
		t.Heartbeat(ev.UserID)
	case EventEditing:
		t.SetEditing(ev.UserID, ev.JokeID)
	case EventLeave:
		t.Leave(ev.UserID)
	}
}
