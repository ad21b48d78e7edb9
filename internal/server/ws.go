package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"setlist-service/internal/remote"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	// Origin checks happen at the gateway.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket collaborator connection.
type Client struct {
	hub    *Hub
	server *Server
	conn   *websocket.Conn

	setlistID string
	userID    string

	// Buffered channel of outbound marshaled frames.
	send chan []byte
}

// handleWS upgrades the connection and joins the setlist's hub. The
// `since` query parameter resumes the event stream; missed events
// replay from the journal right after registration.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Identity comes from the gateway header; the query parameter is
	// only a fallback for ws clients that cannot set headers.
	uid := userID(r)
	if uid == "" {
		uid = r.URL.Query().Get("user")
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	if err := s.ensureDoc(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("setlist-service: ws upgrade: %v", err)
		return
	}

	h := s.hub(id)
	client := &Client{
		hub:       h,
		server:    s,
		conn:      conn,
		setlistID: id,
		userID:    uid,
		send:      make(chan []byte, 256),
	}
	h.register <- client

	// Replay missed history straight onto the socket before the pumps
	// start; nothing else writes yet, and live frames buffer in send
	// meanwhile. Overlap with those buffered frames is harmless:
	// replicas reorder by version and drop duplicates.
	for _, ev := range s.svc.EventsSince(id, since) {
		ev := ev
		frame, err := json.Marshal(remote.Frame{Type: remote.FrameEvent, Event: &ev})
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.unregister <- client
			return
		}
	}

	go client.writePump()
	go client.readPump()
}

// readPump relays submit frames to the document service and acks
// each one on this connection only. Accepted events reach every
// client through the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f remote.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("setlist-service: ws read: %v", err)
			}
			return
		}
		if f.Type != remote.FrameSubmit || f.Mutation == nil {
			continue
		}
		m := *f.Mutation
		m.SetlistID = c.setlistID
		// The actor is always the connection's user; a frame cannot
		// speak for someone else.
		m.ActorID = c.userID

		version, err := c.server.svc.Submit(context.Background(), m)
		ack := remote.Frame{Type: remote.FrameAccepted, MutationID: m.ID, Version: version}
		if err != nil {
			ack = remote.Frame{Type: remote.FrameRejected, MutationID: m.ID, Reason: err.Error()}
		}
		if frame, err := json.Marshal(ack); err == nil {
			select {
			case c.send <- frame:
			default:
				return
			}
		}
	}
}

// writePump drains the send channel to the socket and keeps the
// connection alive with pings. One writer per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
