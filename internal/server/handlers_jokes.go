package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"setlist-service/internal/setlist"
)

// The joke bank is user-scoped REST state, independent of any
// setlist. A joke referenced by setlists stays addressable after
// archiving; archiving only hides it from the default bank listing.

func (s *Server) handleCreateJoke(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var j setlist.Joke
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if j.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	j.ID = uuid.NewString()
	j.OwnerID = owner
	j.Archived = false
	j.CreatedAt = time.Now().UTC()
	if err := s.store.SaveJoke(r.Context(), &j); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleListJokes(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	includeArchived := r.URL.Query().Get("archived") == "true"
	jokes, err := s.store.ListJokes(r.Context(), owner, includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jokes == nil {
		jokes = []setlist.Joke{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jokes": jokes})
}

func (s *Server) handleGetJoke(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.LoadJoke(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "joke not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handlePatchJoke(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	j, err := s.store.LoadJoke(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "joke not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j.OwnerID != uid {
		writeError(w, http.StatusForbidden, "not your joke")
		return
	}

	var patch struct {
		Title                *string   `json:"title"`
		Text                 *string   `json:"text"`
		Notes                *string   `json:"notes"`
		Tags                 *[]string `json:"tags"`
		EstimatedDurationSec *int      `json:"estimatedDurationSec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if patch.Title != nil {
		j.Title = *patch.Title
	}
	if patch.Text != nil {
		j.Text = *patch.Text
	}
	if patch.Notes != nil {
		j.Notes = *patch.Notes
	}
	if patch.Tags != nil {
		j.Tags = *patch.Tags
	}
	if patch.EstimatedDurationSec != nil {
		j.EstimatedDurationSec = *patch.EstimatedDurationSec
	}
	if err := s.store.SaveJoke(r.Context(), j); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleArchiveJoke(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, true)
}

func (s *Server) handleUnarchiveJoke(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, false)
}

func (s *Server) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	uid := userID(r)
	id := chi.URLParam(r, "id")
	j, err := s.store.LoadJoke(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "joke not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if j.OwnerID != uid {
		writeError(w, http.StatusForbidden, "not your joke")
		return
	}
	if err := s.store.SetJokeArchived(r.Context(), id, archived); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	j.Archived = archived
	writeJSON(w, http.StatusOK, j)
}
