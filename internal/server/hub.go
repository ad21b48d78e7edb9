package server

import (
	"context"
	"encoding/json"
	"log"

	"setlist-service/internal/remote"
)

// Hub owns the websocket clients of one open setlist and fans every
// accepted event frame out to all of them.
type Hub struct {
	setlistID string

	// Registered clients.
	clients map[*Client]bool

	// Marshaled frames to broadcast to all clients.
	broadcast chan []byte

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	stop chan struct{}
}

func NewHub(setlistID string) *Hub {
	return &Hub{
		setlistID:  setlistID,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				_ = client.conn.Close()
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					_ = client.conn.Close()
				}
			}

		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				_ = client.conn.Close()
			}
			return
		}
	}
}

// hub returns the per-setlist hub, starting its run loop and event
// bridge on first use.
func (s *Server) hub(setlistID string) *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[setlistID]; ok {
		return h
	}
	h := NewHub(setlistID)
	s.hubs[setlistID] = h
	go h.Run()
	go s.runEventBridge(h)
	return h
}

// runEventBridge pipes the document service's accepted event stream
// into the hub as marshaled event frames, and mirrors each event to
// Redis for external consumers.
func (s *Server) runEventBridge(h *Hub) {
	snap, err := s.svc.LoadSnapshot(context.Background(), h.setlistID)
	if err != nil {
		log.Printf("setlist-service: event bridge %s: %v", h.setlistID, err)
		return
	}
	events, cancel, err := s.svc.Subscribe(context.Background(), h.setlistID, snap.Version)
	if err != nil {
		log.Printf("setlist-service: event bridge %s: %v", h.setlistID, err)
		return
	}
	defer cancel()

	for {
		select {
		case <-h.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := json.Marshal(remote.Frame{Type: remote.FrameEvent, Event: &ev})
			if err != nil {
				log.Printf("setlist-service: marshal frame: %v", err)
				continue
			}
			select {
			case h.broadcast <- frame:
			case <-h.stop:
				return
			}
			s.publishEvent(context.Background(), map[string]any{
				"type": "setlist.event",
				"payload": map[string]any{
					"setlistId": h.setlistID,
					"version":   ev.Version,
					"kind":      ev.Mutation.Kind,
				},
			})
		}
	}
}

// Shutdown stops every hub and disconnects its clients.
func (s *Server) Shutdown() {
	s.mu.Lock()
	hubs := s.hubs
	s.hubs = make(map[string]*Hub)
	s.mu.Unlock()
	for _, h := range hubs {
		close(h.stop)
	}
}
