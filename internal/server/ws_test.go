package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

func wsTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	mockStore := new(MockStore)
	mockStore.On("SaveSnapshot", mock.Anything, mock.Anything).Return(nil).Maybe()
	mockStore.On("LoadSnapshot", mock.Anything, mock.Anything).Return(nil, ErrNotFound).Maybe()
	srv := NewServer(mockStore, nil)

	r := setlist.NewReplica("s1", "club night", "alice")
	r.Roles["bob"] = setlist.RoleEditor
	r.Roles["carol"] = setlist.RoleCommenter
	srv.Service().Seed(r, 0)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown()
	})
	return srv, ts
}

func addJokeMutation(actor, jokeID, sortKey string) setlist.Mutation {
	return setlist.Mutation{
		ID:        uuid.NewString(),
		SetlistID: "s1",
		Kind:      setlist.MutAddJoke,
		ActorID:   actor,
		JokeID:    jokeID,
		SortKey:   sortKey,
		Joke:      &setlist.Joke{ID: jokeID, OwnerID: actor, Title: "bit " + jokeID},
	}
}

func TestWSSubmitAndFanout(t *testing.T) {
	_, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 0)
	assert.NoError(t, err)
	defer bob.Close()

	alice, err := remote.DialSession(ctx, ts.URL, "s1", "alice", 0)
	assert.NoError(t, err)
	defer alice.Close()

	m := addJokeMutation("bob", "j1", "b")
	version, err := bob.Submit(ctx, m)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	// Both live connections observe the accepted event.
	for name, sess := range map[string]*remote.WSSession{"bob": bob, "alice": alice} {
		select {
		case ev := <-sess.Events():
			assert.Equal(t, uint64(1), ev.Version, name)
			assert.Equal(t, m.ID, ev.Mutation.ID, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: no event", name)
		}
	}
}

func TestWSRejectsForbiddenMutation(t *testing.T) {
	_, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	carol, err := remote.DialSession(ctx, ts.URL, "s1", "carol", 0)
	assert.NoError(t, err)
	defer carol.Close()

	_, err = carol.Submit(ctx, addJokeMutation("carol", "j9", "b"))
	assert.Error(t, err)
	assert.True(t, remote.IsRejection(err))
}

func TestWSForgedActorRejected(t *testing.T) {
	_, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	carol, err := remote.DialSession(ctx, ts.URL, "s1", "carol", 0)
	assert.NoError(t, err)
	defer carol.Close()

	// The frame names the owner as actor; the connection's user must
	// win, and carol is only a commenter.
	_, err = carol.Submit(ctx, addJokeMutation("alice", "j9", "b"))
	assert.Error(t, err)
	assert.True(t, remote.IsRejection(err))
}

func TestWSIdentityHeaderBeatsQueryParam(t *testing.T) {
	_, ts := wsTestServer(t)

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/setlists/s1/ws?since=0&user=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"X-User-Id": {"carol"}})
	assert.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	m := addJokeMutation("alice", "j9", "b")
	assert.NoError(t, conn.WriteJSON(remote.Frame{Type: remote.FrameSubmit, Mutation: &m}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack remote.Frame
	assert.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, remote.FrameRejected, ack.Type)
}

func TestWSResumeReplaysMissedEvents(t *testing.T) {
	_, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 0)
	assert.NoError(t, err)

	m1 := addJokeMutation("bob", "j1", "b")
	m2 := addJokeMutation("bob", "j2", "d")
	if _, err := bob.Submit(ctx, m1); err != nil {
		t.Fatalf("submit m1: %v", err)
	}
	if _, err := bob.Submit(ctx, m2); err != nil {
		t.Fatalf("submit m2: %v", err)
	}
	bob.Close()

	// A client that saw version 1 reconnects and catches up on 2.
	late, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 1)
	assert.NoError(t, err)
	defer late.Close()

	select {
	case ev := <-late.Events():
		assert.Equal(t, uint64(2), ev.Version)
		assert.Equal(t, m2.ID, ev.Mutation.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no replayed event")
	}
}

func TestWSResumeReplaysLongHistory(t *testing.T) {
	srv, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const total = 300
	for i := 0; i < total; i++ {
		m := addJokeMutation("bob", fmt.Sprintf("j%03d", i), "b")
		if _, err := srv.Service().Submit(ctx, m); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	// A fresh client resumes from zero and must see the whole
	// history, not a truncated prefix.
	late, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 0)
	assert.NoError(t, err)
	defer late.Close()

	var got uint64
	for got < total {
		select {
		case ev := <-late.Events():
			assert.Equal(t, got+1, ev.Version)
			got = ev.Version
		case <-time.After(3 * time.Second):
			t.Fatalf("stream stalled after %d of %d replayed events", got, total)
		}
	}
}

func TestWSDedupesResubmit(t *testing.T) {
	_, ts := wsTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 0)
	assert.NoError(t, err)
	defer bob.Close()

	m := addJokeMutation("bob", "j1", "b")
	v1, err := bob.Submit(ctx, m)
	assert.NoError(t, err)
	// Same mutation id again, as a reconnect replay would send it.
	v2, err := bob.Submit(ctx, m)
	assert.NoError(t, err)
	assert.Equal(t, v1, v2)
}
