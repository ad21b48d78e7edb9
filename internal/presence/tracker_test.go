package presence

import (
	"context"
	"testing"
	"time"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(ttl time.Duration) (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)}
	tr := NewTracker(ttl)
	tr.now = clk.now
	return tr, clk
}

func TestTracker_JoinAndExpiry(t *testing.T) {
	tr, clk := newTestTracker(30 * time.Second)

	tr.Join("alice", "Alice")
	tr.Join("bob", "Bob")

	users := tr.ActiveUsers()
	if len(users) != 2 {
		t.Fatalf("ActiveUsers = %d, want 2", len(users))
	}
	if users[0].UserID != "alice" || users[1].UserID != "bob" {
		t.Errorf("unexpected order: %v", users)
	}

	// bob keeps heartbeating, alice goes silent.
	clk.advance(20 * time.Second)
	tr.Heartbeat("bob")

	// Inside the window alice is still visible.
	if got := len(tr.ActiveUsers()); got != 2 {
		t.Errorf("before timeout: ActiveUsers = %d, want 2", got)
	}

	// One full window after her last heartbeat she must be gone.
	clk.advance(11 * time.Second)
	users = tr.ActiveUsers()
	if len(users) != 1 || users[0].UserID != "bob" {
		t.Errorf("after timeout: %v", users)
	}
}

func TestTracker_SweepEvictsLikeReads(t *testing.T) {
	tr, clk := newTestTracker(30 * time.Second)
	tr.Join("alice", "Alice")
	clk.advance(31 * time.Second)
	tr.Sweep()

	tr.mu.Lock()
	n := len(tr.members)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("sweep left %d members", n)
	}
}

func TestTracker_SetEditingLastWriteWins(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Second)
	tr.Join("alice", "Alice")
	tr.Join("bob", "Bob")

	tr.SetEditing("alice", "J1")
	tr.SetEditing("bob", "J1")
	tr.SetEditing("alice", "J2")

	if got := tr.EditorsOf("J1"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("EditorsOf(J1) = %v", got)
	}
	if got := tr.EditorsOf("J2"); len(got) != 1 || got[0] != "alice" {
		t.Errorf("EditorsOf(J2) = %v", got)
	}

	tr.SetEditing("alice", "")
	if got := tr.EditorsOf("J2"); len(got) != 0 {
		t.Errorf("cleared focus still visible: %v", got)
	}

	// Editing focus for an unknown user is dropped, not resurrected.
	tr.SetEditing("ghost", "J1")
	if got := tr.EditorsOf("J1"); len(got) != 1 {
		t.Errorf("ghost user tracked: %v", got)
	}
}

func TestTracker_Leave(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Second)
	tr.Join("alice", "Alice")
	tr.Leave("alice")
	if got := tr.ActiveUsers(); len(got) != 0 {
		t.Errorf("left user still active: %v", got)
	}
}

func TestTracker_ApplyEvent(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Second)

	tr.ApplyEvent(Event{Type: EventJoin, UserID: "alice", DisplayName: "Alice"})
	tr.ApplyEvent(Event{Type: EventEditing, UserID: "alice", JokeID: "J3"})

	if got := tr.EditorsOf("J3"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("EditorsOf(J3) = %v", got)
	}

	tr.ApplyEvent(Event{Type: EventLeave, UserID: "alice"})
	if got := len(tr.ActiveUsers()); got != 0 {
		t.Errorf("ActiveUsers after leave = %d", got)
	}
}

func TestLocalChannel_PubSub(t *testing.T) {
	c := NewLocalChannel()
	ctx := context.Background()

	ch, cancel, err := c.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	other, cancelOther, err := c.Subscribe(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	defer cancelOther()

	if err := c.Publish(ctx, Event{Type: EventJoin, SetlistID: "s1", UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if ev.UserID != "alice" || ev.Type != EventJoin {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case ev := <-other:
		t.Errorf("event leaked across setlists: %+v", ev)
	default:
	}
}
