package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"setlist-service/internal/setlist"
)

const submitTimeout = 10 * time.Second

// ErrSessionClosed reports that the websocket dropped; callers treat
// it as a transport failure and reconnect.
var ErrSessionClosed = errors.New("session closed")

// WSSession is one live websocket connection to the document
// service. Submits are acked per mutation id; accepted events arrive
// on Events until the connection drops, at which point Events closes.
type WSSession struct {
	conn   *websocket.Conn
	events chan setlist.Event

	writeMu sync.Mutex

	mu     sync.Mutex
	acks   map[string]chan Frame
	closed bool
}

// DialSession connects to baseURL (http:// or ws:// form) for one
// setlist, resuming the event stream after sinceVersion.
func DialSession(ctx context.Context, baseURL, setlistID, userID string, sinceVersion uint64) (*WSSession, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/setlists/%s/ws", setlistID)
	q := u.Query()
	q.Set("since", fmt.Sprintf("%d", sinceVersion))
	q.Set("user", userID)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{"X-User-Id": {userID}})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &WSSession{
		conn:   conn,
		events: make(chan setlist.Event, 256),
		acks:   make(map[string]chan Frame),
	}
	go s.readLoop()
	return s, nil
}

func (s *WSSession) readLoop() {
	defer func() {
		s.mu.Lock()
		s.closed = true
		for _, ch := range s.acks {
			close(ch)
		}
		s.acks = map[string]chan Frame{}
		s.mu.Unlock()
		close(s.events)
	}()
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case FrameAccepted, FrameRejected:
			s.mu.Lock()
			ch := s.acks[f.MutationID]
			delete(s.acks, f.MutationID)
			s.mu.Unlock()
			if ch != nil {
				ch <- f
				close(ch)
			}
		case FrameEvent:
			if f.Event != nil {
				s.events <- *f.Event
			}
		}
	}
}

// Submit sends one mutation and waits for its ack.
func (s *WSSession) Submit(ctx context.Context, m setlist.Mutation) (uint64, error) {
	ack := make(chan Frame, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	s.acks[m.ID] = ack
	s.mu.Unlock()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(Frame{Type: FrameSubmit, Mutation: &m})
	s.writeMu.Unlock()
	if err != nil {
		s.dropAck(m.ID)
		return 0, err
	}

	timer := time.NewTimer(submitTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-ack:
		if !ok {
			return 0, ErrSessionClosed
		}
		if f.Type == FrameRejected {
			return 0, &RejectionError{Reason: f.Reason}
		}
		return f.Version, nil
	case <-timer.C:
		s.dropAck(m.ID)
		return 0, fmt.Errorf("submit %s: ack timeout", m.ID)
	case <-ctx.Done():
		s.dropAck(m.ID)
		return 0, ctx.Err()
	}
}

func (s *WSSession) dropAck(mutationID string) {
	s.mu.Lock()
	delete(s.acks, mutationID)
	s.mu.Unlock()
}

// Events returns the accepted-event stream. The channel closes when
// the connection drops.
func (s *WSSession) Events() <-chan setlist.Event {
	return s.events
}

func (s *WSSession) Close() error {
	return s.conn.Close()
}
