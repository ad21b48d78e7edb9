package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel fans presence events out over Redis pub/sub and keeps
// a per-setlist member set with heartbeat TTL keys, so any node can
// answer "who is alive on this setlist" without having observed the
// events itself.
type RedisChannel struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisChannel(rdb *redis.Client, ttl time.Duration) *RedisChannel {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisChannel{rdb: rdb, ttl: ttl}
}

func presenceTopic(setlistID string) string {
	return "presence:setlist:" + setlistID
}

func memberSetKey(setlistID string) string {
	return "presence:members:" + setlistID
}

func heartbeatKey(setlistID, userID string) string {
	return "presence:beat:" + setlistID + ":" + userID
}

func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventJoin, EventHeartbeat, EventEditing:
		pipe := c.rdb.Pipeline()
		pipe.SAdd(ctx, memberSetKey(ev.SetlistID), ev.UserID)
		pipe.Set(ctx, heartbeatKey(ev.SetlistID, ev.UserID), "1", c.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	case EventLeave:
		pipe := c.rdb.Pipeline()
		pipe.SRem(ctx, memberSetKey(ev.SetlistID), ev.UserID)
		pipe.Del(ctx, heartbeatKey(ev.SetlistID, ev.UserID))
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, presenceTopic(ev.SetlistID), payload).Err()
}

func (c *RedisChannel) Subscribe(ctx context.Context, setlistID string) (<-chan Event, func(), error) {
	sub := c.rdb.Subscribe(ctx, presenceTopic(setlistID))
	// Force the subscription onto the wire before we return, so
	// events published right after Subscribe are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("setlist-service: presence decode: %v", err)
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// AliveMembers returns the user ids on the setlist whose heartbeat
// key has not expired. Stale ids are pruned from the member set as a
// side effect.
func (c *RedisChannel) AliveMembers(ctx context.Context, setlistID string) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, memberSetKey(setlistID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := c.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		checks[i] = pipe.Exists(ctx, heartbeatKey(setlistID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	alive := ids[:0]
	var stale []any
	for i, cmd := range checks {
		if cmd.Val() == 1 {
			alive = append(alive, ids[i])
		} else {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) > 0 {
		_ = c.rdb.SRem(ctx, memberSetKey(setlistID), stale...).Err()
	}
	return alive, nil
}
