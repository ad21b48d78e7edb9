package collab

import (
	"context"
	"log"
	"time"

	"setlist-service/internal/presence"
)

// startPresence announces this user, feeds inbound presence events
// into the tracker, and keeps the membership alive with heartbeats
// at a third of the TTL. Without a configured channel the tracker
// still lists the local user so the UI never shows an empty room.
func (s *Store) startPresence(ctx context.Context) {
	s.tracker.Join(s.cfg.UserID, s.cfg.DisplayName)

	if s.cfg.Presence == nil {
		return
	}

	if err := s.publishPresence(ctx, presence.EventJoin, ""); err != nil {
		log.Printf("setlist-view: presence join: %v", err)
	}

	events, cancel, err := s.cfg.Presence.Subscribe(ctx, s.cfg.SetlistID)
	if err != nil {
		log.Printf("setlist-view: presence subscribe: %v", err)
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.presenceCancel = cancel
	s.heartbeatStop = stop
	s.mu.Unlock()

	go func() {
		for ev := range events {
			if ev.UserID == s.cfg.UserID {
				continue
			}
			s.mu.Lock()
			s.tracker.ApplyEvent(ev)
			s.rebuildLocked()
			s.notifyLocked()
			s.mu.Unlock()
		}
	}()

	go func() {
		interval := s.cfg.PresenceTTL / 3
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hctx, hcancel := context.WithTimeout(context.Background(), interval)
				if err := s.publishPresence(hctx, presence.EventHeartbeat, ""); err != nil {
					log.Printf("setlist-view: presence heartbeat: %v", err)
				}
				hcancel()
				s.mu.Lock()
				s.tracker.Sweep()
				s.rebuildLocked()
				s.notifyLocked()
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Store) publishPresence(ctx context.Context, t presence.EventType, jokeID string) error {
	return s.cfg.Presence.Publish(ctx, presence.Event{
		Type:        t,
		SetlistID:   s.cfg.SetlistID,
		UserID:      s.cfg.UserID,
		DisplayName: s.cfg.DisplayName,
		JokeID:      jokeID,
	})
}

// SetEditing marks which joke this user is editing; empty clears it.
// Best effort: failures are logged, never surfaced, and the local
// tracker updates regardless.
func (s *Store) SetEditing(ctx context.Context, jokeID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.tracker.SetEditing(s.cfg.UserID, jokeID)
	s.rebuildLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if s.cfg.Presence == nil {
		return
	}
	if err := s.publishPresence(ctx, presence.EventEditing, jokeID); err != nil {
		log.Printf("setlist-view: presence editing: %v", err)
	}
}

// ActiveUsers lists live collaborators, the local user included.
func (s *Store) ActiveUsers() []presence.Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.ActiveUsers()
}
