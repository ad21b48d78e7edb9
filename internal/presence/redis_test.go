package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisChannel_PublishSubscribe(t *testing.T) {
	_, rdb := newTestRedis(t)
	ch := NewRedisChannel(rdb, 30*time.Second)
	ctx := context.Background()

	events, cancel, err := ch.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	want := Event{Type: EventEditing, SetlistID: "s1", UserID: "alice", JokeID: "J2"}
	if err := ch.Publish(ctx, want); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-events:
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for presence event")
	}
}

func TestRedisChannel_AliveMembers(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ch := NewRedisChannel(rdb, 30*time.Second)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob"} {
		if err := ch.Publish(ctx, Event{Type: EventJoin, SetlistID: "s1", UserID: u}); err != nil {
			t.Fatal(err)
		}
	}

	alive, err := ch.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alive) != 2 {
		t.Fatalf("alive = %v, want both members", alive)
	}

	// Let alice's heartbeat key expire; bob refreshes.
	mr.FastForward(20 * time.Second)
	if err := ch.Publish(ctx, Event{Type: EventHeartbeat, SetlistID: "s1", UserID: "bob"}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(15 * time.Second)

	alive, err = ch.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alive) != 1 || alive[0] != "bob" {
		t.Errorf("alive = %v, want [bob]", alive)
	}

	// Stale members were pruned from the set as well.
	members, err := rdb.SMembers(ctx, memberSetKey("s1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "bob" {
		t.Errorf("member set = %v, want [bob]", members)
	}
}

func TestRedisChannel_LeaveRemovesMember(t *testing.T) {
	_, rdb := newTestRedis(t)
	ch := NewRedisChannel(rdb, 30*time.Second)
	ctx := context.Background()

	if err := ch.Publish(ctx, Event{Type: EventJoin, SetlistID: "s1", UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := ch.Publish(ctx, Event{Type: EventLeave, SetlistID: "s1", UserID: "alice"}); err != nil {
		t.Fatal(err)
	}

	alive, err := ch.AliveMembers(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alive) != 0 {
		t.Errorf("alive = %v, want empty", alive)
	}
}
