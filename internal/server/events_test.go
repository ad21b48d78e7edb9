package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

// Accepted mutations are mirrored to the shared broadcast channel
// for external consumers, in addition to the per-setlist hub.
func TestEventBridgePublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	mockStore := new(MockStore)
	mockStore.On("SaveSnapshot", mock.Anything, mock.Anything).Return(nil).Maybe()
	srv := NewServer(mockStore, rdb)

	r := setlist.NewReplica("s1", "club night", "alice")
	r.Roles["bob"] = setlist.RoleEditor
	srv.Service().Seed(r, 0)

	ts := httptest.NewServer(srv.Router())
	defer func() {
		ts.Close()
		srv.Shutdown()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, "broadcast")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bob, err := remote.DialSession(ctx, ts.URL, "s1", "bob", 0)
	assert.NoError(t, err)
	defer bob.Close()

	if _, err := bob.Submit(ctx, addJokeMutation("bob", "j1", "b")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev struct {
			Type    string `json:"type"`
			Payload struct {
				SetlistID string `json:"setlistId"`
				Version   uint64 `json:"version"`
			} `json:"payload"`
		}
		assert.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "setlist.event", ev.Type)
		assert.Equal(t, "s1", ev.Payload.SetlistID)
		assert.Equal(t, uint64(1), ev.Payload.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast message")
	}
}
