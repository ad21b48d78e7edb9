package collab

import (
	"fmt"
	"log"

	"setlist-service/internal/setlist"
)

// handleRemoteEvent reconciles one authoritative event. Events must
// apply in version order; anything ahead of the next expected version
// buffers until the gap fills, duplicates are dropped unchanged.
func (s *Store) handleRemoteEvent(ev setlist.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.confirmed == nil {
		return
	}
	if ev.Version <= s.version {
		// Duplicate delivery; already applied.
		return
	}
	if ev.Version != s.version+1 {
		s.gap[ev.Version] = ev
		return
	}
	s.applyEventLocked(ev)
	for {
		next, ok := s.gap[s.version+1]
		if !ok {
			break
		}
		delete(s.gap, next.Version)
		s.applyEventLocked(next)
	}
	s.rebuildLocked()
	s.notifyLocked()
}

func (s *Store) applyEventLocked(ev setlist.Event) {
	m := ev.Mutation
	if i := s.pendingIndexLocked(m.ID); i >= 0 {
		// Our own mutation came back confirmed; the optimistic apply
		// already matches, so the overlay entry just retires.
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
	} else {
		s.dropConflictingLocked(&m)
	}
	if err := s.confirmed.Apply(&m); err != nil {
		// The authoritative store accepted it, so a local apply error
		// means replica drift. Log it; versioning stays consistent.
		log.Printf("setlist-service: apply confirmed mutation %s: %v", m.ID, err)
	}
	s.version = ev.Version
	s.confirmed.List.Version = ev.Version
}

// dropConflictingLocked enforces last-confirmed-wins: any pending
// local mutation that conflicts with the incoming confirmed one is
// discarded and surfaced as a dismissible notice, never silently.
func (s *Store) dropConflictingLocked(m *setlist.Mutation) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		field, conflict := conflicts(&p, m)
		if !conflict {
			kept = append(kept, p)
			continue
		}
		s.notices = append(s.notices, Notice{
			Kind:   NoticeConflictOverridden,
			JokeID: p.JokeID,
			Field:  field,
			Text:   fmt.Sprintf("your change to %s was overridden by another editor", describeTarget(&p)),
		})
	}
	s.pending = kept
}

// conflicts reports whether pending p loses to confirmed m, and on a
// field-level edit conflict, which field.
func conflicts(p, m *setlist.Mutation) (string, bool) {
	switch m.Kind {
	case setlist.MutEditJoke:
		if p.Kind == setlist.MutEditJoke && p.JokeID == m.JokeID {
			if f, overlap := overlappingField(p.Fields, m.Fields); overlap {
				return f, true
			}
		}
	case setlist.MutReorder:
		if p.Kind == setlist.MutReorder && p.JokeID == m.JokeID {
			return "", true
		}
		// A confirmed renumber rewrites every key; pending reorders
		// computed against the old keys are stale.
		if p.Kind == setlist.MutReorder && len(m.Renumbered) > 0 {
			return "", true
		}
	case setlist.MutRemoveJoke:
		if p.JokeID == m.JokeID &&
			(p.Kind == setlist.MutEditJoke || p.Kind == setlist.MutReorder || p.Kind == setlist.MutComment) {
			return "", true
		}
	case setlist.MutShare:
		if p.Kind == setlist.MutShare && p.TargetUserID == m.TargetUserID {
			return "", true
		}
	}
	return "", false
}

func overlappingField(a, b []string) (string, bool) {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return x, true
			}
		}
	}
	return "", false
}

func describeTarget(p *setlist.Mutation) string {
	if p.Kind == setlist.MutShare {
		return "collaborator " + p.TargetUserID
	}
	if p.JokeID != "" {
		return "joke " + p.JokeID
	}
	return "the setlist"
}

func (s *Store) pendingIndexLocked(mutationID string) int {
	for i, p := range s.pending {
		if p.ID == mutationID {
			return i
		}
	}
	return -1
}

// handleSubmitResult processes accept/reject acks from the
// connection manager. Accepts wait for the event stream to confirm;
// rejections discard the pending edit and surface the reason.
func (s *Store) handleSubmitResult(res SubmitResult) {
	if res.Err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if i := s.pendingIndexLocked(res.Mutation.ID); i >= 0 {
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
	}
	s.lastErr = &ValidationRejectedError{
		Op:     res.Mutation.Operation(),
		Reason: res.Err.Error(),
	}
	s.rebuildLocked()
	s.notifyLocked()
}

// handleStatus mirrors connection state into the view state machine.
func (s *Store) handleStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmStatus = st
	s.rebuildLocked()
	s.notifyLocked()
}

// mergedViewLocked overlays pending mutations onto the confirmed
// replica. Overlay entries that no longer apply cleanly are skipped;
// conflict handling retires them when the superseding event lands.
func (s *Store) mergedViewLocked() *setlist.Replica {
	view := s.confirmed.Clone()
	for i := range s.pending {
		_ = view.Apply(&s.pending[i])
	}
	return view
}

// rebuildLocked derives a fresh immutable snapshot. Copy-on-write:
// the previous snapshot value is never touched.
func (s *Store) rebuildLocked() {
	if s.confirmed == nil {
		s.snap = Snapshot{State: s.state, Err: s.lastErr}
		return
	}
	view := s.mergedViewLocked()

	state := s.state
	if state != StateLoading && state != StateError {
		switch s.cmStatus {
		case StatusDisconnected, StatusRetrying:
			state = StateDisconnected
		case StatusConnected:
			if len(s.pending) > 0 {
				state = StateSyncing
			} else {
				state = StateConnected
			}
		default:
			// Connecting, or not yet dialed: still syncing.
			state = StateSyncing
		}
		s.state = state
	}

	s.snap = Snapshot{
		Setlist:     view.List,
		Jokes:       view.OrderedJokes(),
		Comments:    view.Comments,
		State:       state,
		Connected:   s.cmStatus == StatusConnected,
		Syncing:     state == StateSyncing || state == StateLoading,
		Err:         s.lastErr,
		Notices:     append([]Notice(nil), s.notices...),
		ActiveUsers: s.tracker.ActiveUsers(),
		Version:     s.version,
	}
}
