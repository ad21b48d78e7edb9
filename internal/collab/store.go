package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"setlist-service/internal/presence"
	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

// ViewState is the lifecycle of one open setlist view.
type ViewState string

const (
	StateLoading      ViewState = "loading"
	StateSyncing      ViewState = "syncing"
	StateConnected    ViewState = "connected"
	StateError        ViewState = "error"
	StateDisconnected ViewState = "disconnected"
)

// ErrViewClosed is returned by operations after Close.
var ErrViewClosed = errors.New("setlist view closed")

// Snapshot is the read-only state handed to the UI. Every accepted
// mutation, local or remote, produces a fresh value; nothing in it is
// shared with the store's internals.
type Snapshot struct {
	Setlist     setlist.Setlist
	Jokes       []setlist.Joke
	Comments    map[string][]setlist.Comment
	State       ViewState
	Connected   bool
	Syncing     bool
	Err         error
	Notices     []Notice
	ActiveUsers []presence.Collaborator
	Version     uint64
}

// Config assembles one Store.
type Config struct {
	SetlistID   string
	UserID      string
	DisplayName string

	Service remote.Service
	// Dial overrides the transport; defaults to an in-process session
	// against Service.
	Dial Dialer

	// Presence is optional; without it the view tracks only itself.
	Presence    presence.Channel
	PresenceTTL time.Duration

	// OnChange receives every new snapshot.
	OnChange func(Snapshot)

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Store applies user intents optimistically, dispatches them to the
// document service, and reconciles the authoritative event stream
// back into local state. It is the single writer of its replica;
// every public method is safe for concurrent use because user
// intents and remote events serialize on one lock, so no two
// mutations are ever reconciled at once.
type Store struct {
	cfg Config
	cm  *ConnectionManager

	tracker *presence.Tracker

	mu        sync.Mutex
	confirmed *setlist.Replica
	version   uint64
	pending   []setlist.Mutation
	gap       map[uint64]setlist.Event
	state     ViewState
	cmStatus  Status
	lastErr   error
	notices   []Notice
	snap      Snapshot
	closed    bool
	opened    bool

	presenceCancel func()
	heartbeatStop  chan struct{}

	// snapshot change notifications coalesce through one goroutine so
	// the UI always observes snapshots in order.
	signal     chan struct{}
	stopNotify chan struct{}
}

func NewStore(cfg Config) *Store {
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = presence.DefaultTTL
	}
	if cfg.Dial == nil && cfg.Service != nil {
		cfg.Dial = ServiceDialer(cfg.Service, cfg.SetlistID)
	}
	s := &Store{
		cfg:        cfg,
		tracker:    presence.NewTracker(cfg.PresenceTTL),
		gap:        make(map[uint64]setlist.Event),
		state:      StateLoading,
		cmStatus:   StatusDisconnected,
		signal:     make(chan struct{}, 1),
		stopNotify: make(chan struct{}),
	}
	go s.notifyLoop()
	return s
}

func (s *Store) notifyLoop() {
	for {
		select {
		case <-s.stopNotify:
			return
		case <-s.signal:
			if cb := s.cfg.OnChange; cb != nil {
				cb(s.Snapshot())
			}
		}
	}
}

// notifyLocked schedules a change notification. Non-blocking: the
// notifier always delivers the latest snapshot, intermediate ones
// coalesce.
func (s *Store) notifyLocked() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	s.notifyLocked()
	s.mu.Unlock()
}

// Open loads the snapshot and starts the connection and presence
// lifecycles. On load failure the view lands in StateError, terminal
// until Retry.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrViewClosed
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	snap, err := s.cfg.Service.LoadSnapshot(ctx, s.cfg.SetlistID)
	if err != nil {
		s.mu.Lock()
		s.state = StateError
		s.lastErr = err
		s.rebuildLocked()
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	s.confirmed = &setlist.Replica{
		List:     snap.Setlist,
		Jokes:    snap.Jokes,
		Roles:    snap.Roles,
		Comments: snap.Comments,
	}
	if s.confirmed.Jokes == nil {
		s.confirmed.Jokes = map[string]setlist.Joke{}
	}
	if s.confirmed.Roles == nil {
		s.confirmed.Roles = map[string]setlist.Role{}
	}
	if s.confirmed.Comments == nil {
		s.confirmed.Comments = map[string][]setlist.Comment{}
	}
	s.version = snap.Version
	s.state = StateSyncing
	var cm *ConnectionManager
	if !s.opened {
		// Install cm in the same critical section as the replica so a
		// concurrent mutation never observes a confirmed view without
		// a transport.
		cm = NewConnectionManager(ConnConfig{
			Dial: s.cfg.Dial,
			Since: func() uint64 {
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.version
			},
			OnEvent:        s.handleRemoteEvent,
			OnResult:       s.handleSubmitResult,
			OnStatus:       s.handleStatus,
			InitialBackoff: s.cfg.InitialBackoff,
			MaxBackoff:     s.cfg.MaxBackoff,
		})
		s.cm = cm
		s.opened = true
	}
	s.mu.Unlock()

	if cm != nil {
		cm.Connect()
		s.startPresence(ctx)
	}

	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

// Retry re-enters loading after an unrecoverable load failure. The
// surfaced error must be dismissed with ClearError first.
func (s *Store) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return fmt.Errorf("retry only valid from the error state")
	}
	if s.lastErr != nil {
		s.mu.Unlock()
		return fmt.Errorf("dismiss the current error before retrying")
	}
	s.mu.Unlock()
	return s.Open(ctx)
}

// ClearError dismisses the surfaced error.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.rebuildLocked()
	s.notifyLocked()
	s.mu.Unlock()
}

// DismissNotices clears accumulated conflict notices.
func (s *Store) DismissNotices() {
	s.mu.Lock()
	s.notices = nil
	s.rebuildLocked()
	s.notifyLocked()
	s.mu.Unlock()
}

// Close tears the view down: retries cancel, pending mutations are
// discarded without resubmission, presence unsubscribes. No timer or
// retry loop survives.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	heartbeatStop := s.heartbeatStop
	presenceCancel := s.presenceCancel
	s.mu.Unlock()

	close(s.stopNotify)

	if s.cm != nil {
		s.cm.Close()
	}
	if heartbeatStop != nil {
		close(heartbeatStop)
	}
	if s.cfg.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.cfg.Presence.Publish(ctx, presence.Event{
			Type:      presence.EventLeave,
			SetlistID: s.cfg.SetlistID,
			UserID:    s.cfg.UserID,
		})
		cancel()
	}
	if presenceCancel != nil {
		presenceCancel()
	}
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
