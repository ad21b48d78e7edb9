package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"setlist-service/internal/remote"
)

// Server exposes the setlist document service over REST and
// websocket. The in-memory service is authoritative for open
// documents; Postgres persists accepted state, Redis (optional)
// carries accepted events to interested external consumers.
type Server struct {
	store Store
	rdb   *redis.Client
	svc   *remote.InMemoryService

	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewServer(store Store, rdb *redis.Client) *Server {
	s := &Server{
		store: store,
		rdb:   rdb,
		hubs:  make(map[string]*Hub),
	}
	s.svc = remote.NewInMemoryService(s.persistSnapshot)
	return s
}

// Service exposes the document service, mainly for in-process
// clients and tests.
func (s *Server) Service() *remote.InMemoryService { return s.svc }

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Post("/setlists", s.handleCreateSetlist)
		r.Get("/setlists", s.handleListSetlists)
		r.Get("/setlists/{id}", s.handleGetSetlist)
		r.Delete("/setlists/{id}", s.handleDeleteSetlist)

		r.Get("/setlists/{id}/members", s.handleListMembers)
		r.Post("/setlists/{id}/members", s.handleShare)
		r.Delete("/setlists/{id}/members/{userId}", s.handleRevoke)

		r.Get("/setlists/{id}/ws", s.handleWS)

		r.Post("/jokes", s.handleCreateJoke)
		r.Get("/jokes", s.handleListJokes)
		r.Get("/jokes/{id}", s.handleGetJoke)
		r.Patch("/jokes/{id}", s.handlePatchJoke)
		r.Post("/jokes/{id}/archive", s.handleArchiveJoke)
		r.Post("/jokes/{id}/unarchive", s.handleUnarchiveJoke)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "setlist-service",
	})
}

// ensureDoc hydrates the document into the in-memory service from
// storage on first touch.
func (s *Server) ensureDoc(ctx context.Context, setlistID string) error {
	if s.svc.Has(setlistID) {
		return nil
	}
	snap, err := s.store.LoadSnapshot(ctx, setlistID)
	if err != nil {
		return err
	}
	s.svc.Seed(snap.Replica(), snap.Version)
	return nil
}

// persistSnapshot is the document service's save-back hook. Failures
// are logged, not propagated: the accepted stream must not stall on
// storage.
func (s *Server) persistSnapshot(snap *remote.Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshot(context.Background(), snap); err != nil {
		log.Printf("setlist-service: persist setlist %s: %v", snap.Setlist.ID, err)
	}
}

// publishEvent mirrors accepted events onto the shared Redis
// broadcast channel for external consumers (gateway, notifications).
// Websocket clients are fed from the hub, not from Redis.
func (s *Server) publishEvent(ctx context.Context, event map[string]any) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("setlist-service: marshal event: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, "broadcast", string(data)).Err(); err != nil {
		log.Printf("setlist-service: publish event: %v", err)
	}
}
