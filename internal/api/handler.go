package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/engine"
	"github.com/lalithlochan/herald/internal/redis"
)

const (
	defaultListLimit = 50
	maxListLimit     = db.MaxFilterLimit
)

// Engine is the subset of *engine.Engine the HTTP surface drives.
type Engine interface {
	OnEventCreated(ctx context.Context, event *db.Event) (*engine.GenerateResult, error)
	OnBulkNotifyRequested(ctx context.Context, userID uuid.UUID, items []engine.BulkItem) (*engine.BulkResult, error)
	OnBatchTick(ctx context.Context) (*engine.BatchResult, error)
}

// EventQueue hands created events to the asynchronous consumer. *sqs.Producer implements it.
type EventQueue interface {
	EnqueueEvent(ctx context.Context, eventID uuid.UUID) (string, error)
}

// InboxReader lists a user's in-app notifications. *redis.Inbox implements it.
type InboxReader interface {
	List(ctx context.Context, userID string, limit int) ([]redis.InboxEntry, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ListResponse wraps every collection endpoint.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	store       db.Store
	engine      Engine
	idempotency *redis.IdempotencyService // nil if Redis not configured
	queue       EventQueue                // nil if SQS not configured
	inbox       InboxReader               // nil if Redis not configured
}

// NewHandler creates a handler that generates notifications synchronously.
func NewHandler(logger *zap.Logger, store db.Store, eng Engine) *Handler {
	return &Handler{
		logger: logger,
		store:  store,
		engine: eng,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, store db.Store, eng Engine, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, store, eng)
	h.idempotency = idempotency
	return h
}

// NewHandlerWithQueue creates a handler that enqueues created events instead
// of generating inline. idempotency may be nil.
func NewHandlerWithQueue(logger *zap.Logger, store db.Store, eng Engine, idempotency *redis.IdempotencyService, queue EventQueue) *Handler {
	h := NewHandlerWithIdempotency(logger, store, eng, idempotency)
	h.queue = queue
	return h
}

// WithInbox enables GET /v1/users/{id}/inbox.
func (h *Handler) WithInbox(inbox InboxReader) *Handler {
	h.inbox = inbox
	return h
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

// writeJSON encodes v and returns the written body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response", "")
		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return body
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// writeDomainError maps store and engine errors onto problem responses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, engine.ErrValidation), db.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, "validation_error", title, err.Error())
	case errors.Is(err, engine.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "user_not_found", title, err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", title, "")
	case errors.Is(err, db.ErrDuplicateEmail):
		h.writeError(w, http.StatusConflict, "duplicate_email", title, "a user with this email already exists")
	case errors.Is(err, engine.ErrTransientStore):
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", title, "the notification store is temporarily unavailable, retry later")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) parseID(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseLimit reads a limit query value, defaulting to defaultListLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		return 0, &db.ValidationError{Field: "limit", Reason: "limit must be between 1 and " + strconv.Itoa(maxListLimit)}
	}
	return limit, nil
}
