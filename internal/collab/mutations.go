package collab

import (
	"errors"

	"github.com/google/uuid"

	"setlist-service/internal/setlist"
)

// AddJoke appends a joke to the end of the set, or after afterJokeID
// when given. The joke is visible locally at once; confirmation
// arrives on the event stream.
func (s *Store) AddJoke(j setlist.Joke, afterJokeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpAddJoke); err != nil {
		return err
	}
	view := s.mergedViewLocked()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.OwnerID == "" {
		j.OwnerID = s.cfg.UserID
	}
	key, err := setlist.KeyForInsert(view.List.JokeOrder, afterJokeID, "")
	if errors.Is(err, setlist.ErrKeySpaceExhausted) {
		return s.stageRenumberedInsertLocked(view, j, afterJokeID)
	}
	if err != nil {
		return s.surfaceLocked(err)
	}
	m := s.newMutationLocked(setlist.MutAddJoke)
	m.Joke = &j
	m.JokeID = j.ID
	m.SortKey = key
	return s.stageLocked(view, m)
}

func (s *Store) stageRenumberedInsertLocked(view *setlist.Replica, j setlist.Joke, afterJokeID string) error {
	renum := setlist.Renumber(view.List.JokeOrder)
	key, err := setlist.KeyForInsert(renum, afterJokeID, "")
	if err != nil {
		return s.surfaceLocked(err)
	}
	m := s.newMutationLocked(setlist.MutAddJoke)
	m.Joke = &j
	m.JokeID = j.ID
	m.SortKey = key
	m.Renumbered = renum
	return s.stageLocked(view, m)
}

// EditJoke applies the named fields of j to the referenced joke.
func (s *Store) EditJoke(j setlist.Joke, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpEditJoke); err != nil {
		return err
	}
	m := s.newMutationLocked(setlist.MutEditJoke)
	m.Joke = &j
	m.JokeID = j.ID
	m.Fields = fields
	return s.stageLocked(s.mergedViewLocked(), m)
}

// RemoveJoke drops the joke from the list. Other jokes keep their
// sort keys.
func (s *Store) RemoveJoke(jokeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpRemoveJoke); err != nil {
		return err
	}
	m := s.newMutationLocked(setlist.MutRemoveJoke)
	m.JokeID = jokeID
	return s.stageLocked(s.mergedViewLocked(), m)
}

// Reorder moves jokeID to targetIndex in the resulting order. Moving
// a joke onto its current position is a no-op and dispatches nothing.
func (s *Store) Reorder(jokeID string, targetIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpReorder); err != nil {
		return err
	}
	view := s.mergedViewLocked()
	key, changed, err := setlist.KeyForMove(view.List.JokeOrder, jokeID, targetIndex)
	var renumbered []setlist.JokeRef
	if errors.Is(err, setlist.ErrKeySpaceExhausted) {
		renumbered = setlist.Renumber(view.List.JokeOrder)
		key, changed, err = setlist.KeyForMove(renumbered, jokeID, targetIndex)
	}
	if err != nil {
		return s.surfaceLocked(err)
	}
	if !changed {
		return nil
	}
	m := s.newMutationLocked(setlist.MutReorder)
	m.JokeID = jokeID
	m.SortKey = key
	m.Renumbered = renumbered
	return s.stageLocked(view, m)
}

// ReorderBetween places jokeID between two named neighbors, the
// intent shape drag gesture sources emit. Empty ids mean list head
// and tail respectively.
func (s *Store) ReorderBetween(jokeID, afterJokeID, beforeJokeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpReorder); err != nil {
		return err
	}
	view := s.mergedViewLocked()
	if alreadyBetween(view.List.JokeOrder, jokeID, afterJokeID, beforeJokeID) {
		return nil
	}
	refs := withoutRef(view.List.JokeOrder, jokeID)
	key, err := setlist.KeyForMoveBetween(refs, jokeID, afterJokeID, beforeJokeID)
	var renumbered []setlist.JokeRef
	if errors.Is(err, setlist.ErrKeySpaceExhausted) {
		renumbered = setlist.Renumber(view.List.JokeOrder)
		key, err = setlist.KeyForMoveBetween(withoutRef(renumbered, jokeID), jokeID, afterJokeID, beforeJokeID)
	}
	if err != nil {
		return s.surfaceLocked(err)
	}
	m := s.newMutationLocked(setlist.MutReorder)
	m.JokeID = jokeID
	m.SortKey = key
	m.Renumbered = renumbered
	return s.stageLocked(view, m)
}

// Share grants or revokes a collaborator role. Owner only; the owner
// role itself can never be reassigned.
func (s *Store) Share(targetUserID string, role setlist.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpShare); err != nil {
		return err
	}
	m := s.newMutationLocked(setlist.MutShare)
	m.TargetUserID = targetUserID
	m.Role = role
	return s.stageLocked(s.mergedViewLocked(), m)
}

// AddComment attaches a comment to a joke. This is the one mutation
// commenters may perform.
func (s *Store) AddComment(jokeID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(setlist.OpComment); err != nil {
		return err
	}
	m := s.newMutationLocked(setlist.MutComment)
	m.JokeID = jokeID
	m.Comment = text
	return s.stageLocked(s.mergedViewLocked(), m)
}

// readyLocked rejects operations on closed/unloaded views and runs
// the permission gate. Denials are surfaced and never reach the
// network.
func (s *Store) readyLocked(op setlist.Operation) error {
	if s.closed {
		return ErrViewClosed
	}
	if s.confirmed == nil {
		return errors.New("setlist view not loaded")
	}
	view := s.mergedViewLocked()
	gate := setlist.Gate{Roles: func(setlistID, userID string) setlist.Role {
		return view.RoleOf(userID)
	}}
	if !gate.CanPerform(s.cfg.SetlistID, s.cfg.UserID, op) {
		err := &PermissionDeniedError{Op: op}
		s.lastErr = err
		s.rebuildLocked()
		s.notifyLocked()
		return err
	}
	return nil
}

func (s *Store) newMutationLocked(kind setlist.MutationKind) setlist.Mutation {
	return setlist.Mutation{
		ID:          uuid.NewString(),
		SetlistID:   s.cfg.SetlistID,
		Kind:        kind,
		ActorID:     s.cfg.UserID,
		BaseVersion: s.version,
	}
}

// stageLocked validates the mutation against the merged view, records
// it as pending, publishes a fresh snapshot, and hands it to the
// connection manager for delivery.
func (s *Store) stageLocked(view *setlist.Replica, m setlist.Mutation) error {
	if err := view.Apply(&m); err != nil {
		return s.surfaceLocked(err)
	}
	s.pending = append(s.pending, m)
	s.rebuildLocked()
	s.notifyLocked()
	s.cm.Send(m)
	return nil
}

func (s *Store) surfaceLocked(err error) error {
	s.lastErr = err
	s.rebuildLocked()
	s.notifyLocked()
	return err
}

func withoutRef(refs []setlist.JokeRef, jokeID string) []setlist.JokeRef {
	out := make([]setlist.JokeRef, 0, len(refs))
	for _, r := range refs {
		if r.JokeID != jokeID {
			out = append(out, r)
		}
	}
	return out
}

func alreadyBetween(refs []setlist.JokeRef, jokeID, afterID, beforeID string) bool {
	for i, r := range refs {
		if r.JokeID != jokeID {
			continue
		}
		prev, next := "", ""
		if i > 0 {
			prev = refs[i-1].JokeID
		}
		if i+1 < len(refs) {
			next = refs[i+1].JokeID
		}
		return prev == afterID && next == beforeID
	}
	return false
}
