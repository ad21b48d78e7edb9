package remote

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"setlist-service/internal/setlist"
)

const defaultJournalCap = 1024

// PersistFunc is invoked with a snapshot after each accepted
// mutation. Best effort: persistence failures must not block the
// mutation stream.
type PersistFunc func(snap *Snapshot)

// docState holds one setlist document. The journal keeps recent
// accepted events so a reconnecting replica can subscribe from its
// last known version instead of reloading the snapshot.
type docState struct {
	mu      sync.Mutex
	replica *setlist.Replica
	version uint64
	journal []setlist.Event
	// mutation id -> version it was accepted at, for idempotent
	// resubmits after a reconnect replay.
	seen map[string]uint64
	subs map[chan setlist.Event]struct{}

	// Serializes persist calls so an older snapshot can never land
	// after a newer one. persisted is guarded by persistMu, not mu.
	persistMu sync.Mutex
	persisted uint64
}

// InMemoryService is the authoritative document service. It owns the
// canonical replica per setlist, serializes mutations per document,
// assigns versions, and fans accepted events out to subscribers.
type InMemoryService struct {
	mu         sync.RWMutex
	docs       map[string]*docState
	journalCap int
	persist    PersistFunc
}

func NewInMemoryService(persist PersistFunc) *InMemoryService {
	return &InMemoryService{
		docs:       make(map[string]*docState),
		journalCap: defaultJournalCap,
		persist:    persist,
	}
}

// CreateSetlist registers a fresh document and returns its snapshot.
func (s *InMemoryService) CreateSetlist(title, ownerID string) *Snapshot {
	id := uuid.NewString()
	r := setlist.NewReplica(id, title, ownerID)
	s.Seed(r, 0)
	return s.snapshotOf(s.doc(id))
}

// Seed installs a hydrated replica, e.g. loaded from storage.
func (s *InMemoryService) Seed(r *setlist.Replica, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.List.Version = version
	s.docs[r.List.ID] = &docState{
		replica: r,
		version: version,
		seen:    make(map[string]uint64),
		subs:    make(map[chan setlist.Event]struct{}),
	}
}

// Has reports whether the document is already resident.
func (s *InMemoryService) Has(setlistID string) bool {
	return s.doc(setlistID) != nil
}

func (s *InMemoryService) doc(setlistID string) *docState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[setlistID]
}

func (s *InMemoryService) LoadSnapshot(ctx context.Context, setlistID string) (*Snapshot, error) {
	ds := s.doc(setlistID)
	if ds == nil {
		return nil, ErrNotFound
	}
	return s.snapshotOf(ds), nil
}

func (s *InMemoryService) snapshotOf(ds *docState) *Snapshot {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	r := ds.replica.Clone()
	return &Snapshot{
		Setlist:  r.List,
		Jokes:    r.Jokes,
		Roles:    r.Roles,
		Comments: r.Comments,
		Version:  ds.version,
	}
}

func (s *InMemoryService) Submit(ctx context.Context, m setlist.Mutation) (uint64, error) {
	ds := s.doc(m.SetlistID)
	if ds == nil {
		return 0, &RejectionError{Reason: "unknown setlist"}
	}

	ds.mu.Lock()
	if v, ok := ds.seen[m.ID]; ok {
		// Replayed after a reconnect; already accepted.
		ds.mu.Unlock()
		return v, nil
	}
	if !ds.replica.RoleOf(m.ActorID).Can(m.Operation()) {
		ds.mu.Unlock()
		return 0, &RejectionError{Reason: "permission denied"}
	}

	// Validate against a clone so a rejected mutation leaves the
	// canonical replica untouched.
	next := ds.replica.Clone()
	if err := next.Apply(&m); err != nil {
		ds.mu.Unlock()
		return 0, &RejectionError{Reason: err.Error()}
	}

	ds.version++
	next.List.Version = ds.version
	ds.replica = next
	ds.seen[m.ID] = ds.version

	ev := setlist.Event{Version: ds.version, Mutation: m}
	if len(ds.journal) == s.journalCap {
		copy(ds.journal, ds.journal[1:])
		ds.journal = ds.journal[:len(ds.journal)-1]
	}
	ds.journal = append(ds.journal, ev)

	for ch := range ds.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber stalled; drop it. The closed channel tells
			// the replica to reconnect and catch up from its version.
			delete(ds.subs, ch)
			close(ch)
		}
	}
	version := ds.version
	ds.mu.Unlock()

	if s.persist != nil {
		snap := s.snapshotOf(ds)
		go func() {
			ds.persistMu.Lock()
			defer ds.persistMu.Unlock()
			if snap.Version <= ds.persisted {
				return
			}
			s.persist(snap)
			ds.persisted = snap.Version
		}()
	}
	return version, nil
}

// EventsSince returns journaled events after sinceVersion, oldest
// first. Used by transports to replay history to a reconnecting
// client without opening a subscription.
func (s *InMemoryService) EventsSince(setlistID string, sinceVersion uint64) []setlist.Event {
	ds := s.doc(setlistID)
	if ds == nil {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []setlist.Event
	for _, ev := range ds.journal {
		if ev.Version > sinceVersion {
			out = append(out, ev)
		}
	}
	return out
}

func (s *InMemoryService) Subscribe(ctx context.Context, setlistID string, sinceVersion uint64) (<-chan setlist.Event, func(), error) {
	ds := s.doc(setlistID)
	if ds == nil {
		return nil, nil, ErrNotFound
	}

	ds.mu.Lock()
	missed := 0
	for _, ev := range ds.journal {
		if ev.Version > sinceVersion {
			missed++
		}
	}
	buf := 256
	if missed > buf {
		buf = missed + 64
	}
	ch := make(chan setlist.Event, buf)
	// Prime with journal events the subscriber missed, in order.
	for _, ev := range ds.journal {
		if ev.Version > sinceVersion {
			ch <- ev
		}
	}
	ds.subs[ch] = struct{}{}
	ds.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ds.mu.Lock()
			if _, ok := ds.subs[ch]; ok {
				delete(ds.subs, ch)
				close(ch)
			}
			ds.mu.Unlock()
		})
	}
	return ch, cancel, nil
}
