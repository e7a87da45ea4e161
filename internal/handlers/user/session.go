package user

import (
	"encoding/json"
	"net/http"

	"github.com/forgebuild/forgebuild/backend/internal/middleware"
	"github.com/forgebuild/forgebuild/backend/internal/repository"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/google/uuid"
)

// SessionHandler reports who the current session belongs to.
type SessionHandler struct {
	users *repository.UserRepository
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(users *repository.UserRepository) *SessionHandler {
	return &SessionHandler{users: users}
}

// HandleCurrent returns the authenticated user's profile
func (h *SessionHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	idStr, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		debug.Warning("Malformed user id in session token: %q", idStr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		debug.Error("Failed to load user %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}
