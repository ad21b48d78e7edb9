package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

func (s *Server) handleCreateSetlist(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	snap := s.svc.CreateSetlist(body.Title, owner)
	if err := s.store.SaveSnapshot(r.Context(), snap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publishEvent(r.Context(), map[string]any{
		"type":    "setlist.created",
		"payload": snap.Setlist,
	})
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSetlists(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	lists, err := s.store.ListSetlists(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lists == nil {
		lists = []setlist.Setlist{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"setlists": lists})
}

func (s *Server) handleGetSetlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ensureDoc(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "setlist not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, err := s.svc.LoadSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSetlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := userID(r)
	if err := s.ensureDoc(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "setlist not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, err := s.svc.LoadSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}
	if snap.Setlist.OwnerID != uid {
		writeError(w, http.StatusForbidden, "only the owner can delete a setlist")
		return
	}
	if err := s.store.DeleteSetlist(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publishEvent(r.Context(), map[string]any{
		"type":    "setlist.deleted",
		"payload": map[string]string{"setlistId": id},
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ensureDoc(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}
	snap, err := s.svc.LoadSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}
	type member struct {
		UserID string       `json:"userId"`
		Role   setlist.Role `json:"role"`
	}
	members := []member{}
	for uid, role := range snap.Roles {
		members = append(members, member{UserID: uid, Role: role})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := userID(r)
	var body struct {
		UserID string       `json:"userId"`
		Role   setlist.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	s.submitShare(w, r, id, actor, body.UserID, body.Role)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.submitShare(w, r, id, userID(r), chi.URLParam(r, "userId"), setlist.RoleNone)
}

// submitShare routes REST role changes through the document service
// so they are versioned and fan out to live collaborators like any
// other mutation.
func (s *Server) submitShare(w http.ResponseWriter, r *http.Request, setlistID, actor, target string, role setlist.Role) {
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}
	if err := s.ensureDoc(r.Context(), setlistID); err != nil {
		writeError(w, http.StatusNotFound, "setlist not found")
		return
	}
	version, err := s.svc.Submit(r.Context(), setlist.Mutation{
		ID:           uuid.NewString(),
		SetlistID:    setlistID,
		Kind:         setlist.MutShare,
		ActorID:      actor,
		TargetUserID: target,
		Role:         role,
	})
	if err != nil {
		var rej *remote.RejectionError
		if errors.As(err, &rej) {
			writeError(w, http.StatusForbidden, rej.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.publishEvent(r.Context(), map[string]any{
		"type": "setlist.shared",
		"payload": map[string]any{
			"setlistId": setlistID,
			"userId":    target,
			"role":      role,
			"version":   version,
		},
	})
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}
