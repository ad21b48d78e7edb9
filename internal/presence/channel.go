package presence

import (
	"context"
	"sync"
)

// EventType discriminates presence channel events.
type EventType string

const (
	EventJoin      EventType = "join"
	EventHeartbeat EventType = "heartbeat"
	EventEditing   EventType = "editing"
	EventLeave     EventType = "leave"
)

// Event is one ephemeral presence update. Best effort: the channel
// offers no ordering or durability guarantee.
type Event struct {
	Type        EventType `json:"type"`
	SetlistID   string    `json:"setlistId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	JokeID      string    `json:"jokeId,omitempty"`
}

// Channel is the pub/sub primitive presence rides on. Subscribe
// returns a receive channel and a cancel func that must be called
// when the view closes.
type Channel interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, setlistID string) (<-chan Event, func(), error)
}

// LocalChannel is an in-process Channel for single-node deployments
// and tests. Slow subscribers drop events rather than block the
// publisher.
type LocalChannel struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewLocalChannel() *LocalChannel {
	return &LocalChannel{subs: make(map[string]map[chan Event]struct{})}
}

func (c *LocalChannel) Publish(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs[ev.SetlistID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (c *LocalChannel) Subscribe(ctx context.Context, setlistID string) (<-chan Event, func(), error) {
	ch := make(chan Event, 64)
	c.mu.Lock()
	if c.subs[setlistID] == nil {
		c.subs[setlistID] = make(map[chan Event]struct{})
	}
	c.subs[setlistID][ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[setlistID], ch)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
