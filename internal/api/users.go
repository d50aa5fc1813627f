package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/redis"
)

// UserRequest represents the body of POST /v1/users
type UserRequest struct {
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       *string         `json:"phone,omitempty"`
	Preferences []db.Preference `json:"preferences"`
}

// PreferencesRequest represents the body of PUT /v1/users/{id}/preferences
type PreferencesRequest struct {
	Preferences []db.Preference `json:"preferences"`
}

// CreateUser handles POST /v1/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user := &db.User{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Preferences: req.Preferences,
	}
	if err := db.ValidateUser(user); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid user", err.Error())
		return
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if !errors.Is(err, db.ErrDuplicateEmail) {
			h.logger.Error("failed to create user", zap.Error(err))
		}
		h.writeDomainError(w, err, "Failed to create user")
		return
	}

	h.logger.Info("user created",
		zap.String("id", user.ID.String()),
		zap.Int("preferences", len(user.Preferences)),
	)

	h.writeJSON(w, http.StatusCreated, user)
}

// ListUsers handles GET /v1/users?limit=50
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid limit", err.Error())
		return
	}

	users, err := h.store.ListUsers(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list users", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[*db.User]{Data: users, Count: len(users), Limit: limit})
}

// GetUser handles GET /v1/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "user ID")
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "User not found")
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// UpdatePreferences handles PUT /v1/users/{id}/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "user ID")
	if !ok {
		return
	}

	var req PreferencesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Preferences == nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid preferences", "preferences are required")
		return
	}
	if err := db.ValidatePreferences(req.Preferences); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid preferences", err.Error())
		return
	}

	user, err := h.store.UpdateUserPreferences(r.Context(), id, req.Preferences)
	if err != nil {
		h.writeDomainError(w, err, "Failed to update preferences")
		return
	}

	h.logger.Info("user preferences updated",
		zap.String("id", id.String()),
		zap.Int("preferences", len(user.Preferences)),
	)

	h.writeJSON(w, http.StatusOK, user)
}

// ListInbox handles GET /v1/users/{id}/inbox?limit=20
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "user ID")
	if !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid limit", err.Error())
		return
	}

	if h.inbox == nil {
		h.writeError(w, http.StatusServiceUnavailable, "inbox_unavailable", "In-app inbox unavailable", "the in-app inbox requires Redis")
		return
	}

	if _, err := h.store.GetUser(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "User not found")
		return
	}

	entries, err := h.inbox.List(r.Context(), id.String(), limit)
	if err != nil {
		h.logger.Error("failed to read inbox", zap.Error(err), zap.String("user_id", id.String()))
		h.writeError(w, http.StatusServiceUnavailable, "inbox_unavailable", "Failed to read inbox", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[redis.InboxEntry]{Data: entries, Count: len(entries), Limit: limit})
}
