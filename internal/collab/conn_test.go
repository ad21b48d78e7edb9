package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

type fakeSession struct {
	submit func(ctx context.Context, m setlist.Mutation) (uint64, error)
	events chan setlist.Event

	mu     sync.Mutex
	closed bool
}

func newFakeSession(submit func(ctx context.Context, m setlist.Mutation) (uint64, error)) *fakeSession {
	return &fakeSession{submit: submit, events: make(chan setlist.Event, 16)}
}

func (f *fakeSession) Submit(ctx context.Context, m setlist.Mutation) (uint64, error) {
	return f.submit(ctx, m)
}

func (f *fakeSession) Events() <-chan setlist.Event { return f.events }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectionManagerReplaysQueueInOrder(t *testing.T) {
	var mu sync.Mutex
	var submitted []string
	dials := 0

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			mu.Lock()
			dials++
			n := dials
			mu.Unlock()
			if n < 3 {
				return nil, errors.New("dial refused")
			}
			return newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
				mu.Lock()
				submitted = append(submitted, m.ID)
				mu.Unlock()
				return uint64(len(submitted)), nil
			}), nil
		},
	})
	defer cm.Close()

	// Queue while every dial still fails.
	cm.Send(setlist.Mutation{ID: "m1"})
	cm.Send(setlist.Mutation{ID: "m2"})
	cm.Send(setlist.Mutation{ID: "m3"})
	cm.Connect()

	waitFor(t, "queue drain", func() bool { return cm.QueuedCount() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(submitted) != 3 {
		t.Fatalf("submitted %d mutations, want 3", len(submitted))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if submitted[i] != want {
			t.Errorf("submit order[%d] = %q, want %q", i, submitted[i], want)
		}
	}
	if dials < 3 {
		t.Errorf("dial attempts = %d, want at least 3", dials)
	}
}

func TestConnectionManagerRejectionDropsAndContinues(t *testing.T) {
	var mu sync.Mutex
	var results []SubmitResult

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			return newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
				if m.ID == "bad" {
					return 0, &remote.RejectionError{Reason: "unknown joke"}
				}
				return 7, nil
			}), nil
		},
		OnResult: func(res SubmitResult) {
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		},
	})
	defer cm.Close()

	cm.Send(setlist.Mutation{ID: "bad"})
	cm.Send(setlist.Mutation{ID: "good"})
	cm.Connect()

	waitFor(t, "both results", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if !remote.IsRejection(results[0].Err) {
		t.Errorf("first result error = %v, want rejection", results[0].Err)
	}
	if results[1].Err != nil || results[1].Version != 7 {
		t.Errorf("second result = %+v, want accepted at version 7", results[1])
	}
	if cm.QueuedCount() != 0 {
		t.Errorf("queue = %d after rejection, want 0", cm.QueuedCount())
	}
}

func TestConnectionManagerTransportErrorResubmits(t *testing.T) {
	var mu sync.Mutex
	var submitted []string
	attempt := 0

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			return newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
				mu.Lock()
				defer mu.Unlock()
				attempt++
				if attempt == 1 {
					return 0, errors.New("connection reset")
				}
				submitted = append(submitted, m.ID)
				return uint64(len(submitted)), nil
			}), nil
		},
	})
	defer cm.Close()

	cm.Send(setlist.Mutation{ID: "m1"})
	cm.Send(setlist.Mutation{ID: "m2"})
	cm.Connect()

	waitFor(t, "queue drain", func() bool { return cm.QueuedCount() == 0 })

	mu.Lock()
	defer mu.Unlock()
	// m1 failed in transit on the first session, so it must lead the
	// replay on the next one.
	if len(submitted) != 2 || submitted[0] != "m1" || submitted[1] != "m2" {
		t.Errorf("submitted = %v, want [m1 m2]", submitted)
	}
}

func TestConnectionManagerStatusLifecycle(t *testing.T) {
	var mu sync.Mutex
	var statuses []Status
	dials := 0

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			mu.Lock()
			dials++
			n := dials
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("dial refused")
			}
			return newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
				return 1, nil
			}), nil
		},
		OnStatus: func(st Status) {
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
		},
	})
	cm.Connect()

	waitFor(t, "connected", func() bool { return cm.Status() == StatusConnected })
	cm.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusRetrying, StatusConnected}
	for i, st := range want {
		if i >= len(statuses) || statuses[i] != st {
			t.Fatalf("statuses = %v, want prefix %v", statuses, want)
		}
	}
	if statuses[len(statuses)-1] != StatusDisconnected {
		t.Errorf("final status = %v, want disconnected", statuses[len(statuses)-1])
	}
}

func TestConnectionManagerCloseStopsRetrying(t *testing.T) {
	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: 10 * time.Second, // close must not wait this out
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			return nil, errors.New("dial refused")
		},
	})
	cm.Connect()
	waitFor(t, "retrying", func() bool { return cm.Status() == StatusRetrying })

	done := make(chan struct{})
	go func() {
		cm.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not interrupt the backoff sleep")
	}
}

func TestConnectionManagerResubscribesFromCurrentVersion(t *testing.T) {
	var mu sync.Mutex
	var sinces []uint64
	version := uint64(4)

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		Since: func() uint64 {
			mu.Lock()
			defer mu.Unlock()
			return version
		},
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			mu.Lock()
			sinces = append(sinces, since)
			n := len(sinces)
			version = 9
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("dial refused")
			}
			return newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
				return 1, nil
			}), nil
		},
	})
	defer cm.Close()
	cm.Connect()

	waitFor(t, "second dial", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sinces) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	if sinces[0] != 4 || sinces[1] != 9 {
		t.Errorf("since values = %v, want [4 9]", sinces[:2])
	}
}

func TestConnectionManagerRoutesEvents(t *testing.T) {
	sess := newFakeSession(func(ctx context.Context, m setlist.Mutation) (uint64, error) {
		return 1, nil
	})
	var mu sync.Mutex
	var got []uint64

	cm := NewConnectionManager(ConnConfig{
		InitialBackoff: time.Millisecond,
		Dial: func(ctx context.Context, since uint64) (Session, error) {
			return sess, nil
		},
		OnEvent: func(ev setlist.Event) {
			mu.Lock()
			got = append(got, ev.Version)
			mu.Unlock()
		},
	})
	defer cm.Close()
	cm.Connect()

	waitFor(t, "connected", func() bool { return cm.Status() == StatusConnected })
	sess.events <- setlist.Event{Version: 1}
	sess.events <- setlist.Event{Version: 2}

	waitFor(t, "events delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("event versions = %v, want [1 2]", got)
	}
}
