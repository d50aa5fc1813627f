package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/engine"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/redis"
)

const eventsIdempotencyScope = "events"

// EventRequest represents the incoming request body
type EventRequest struct {
	Type     db.EventType `json:"type"`
	Priority db.Priority  `json:"priority"`
	Data     db.EventData `json:"data"`
}

// EventResponse is returned after creating an event. Generation is absent
// when the event was queued for asynchronous fan-out.
type EventResponse struct {
	Event      *db.Event              `json:"event"`
	Generation *engine.GenerateResult `json:"generation,omitempty"`
	Queued     bool                   `json:"queued"`
}

// CreateEvent handles POST /v1/events
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}

	event := &db.Event{Type: req.Type, Priority: req.Priority, Data: req.Data}
	if err := db.ValidateEvent(event); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid event", err.Error())
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	reserved := false

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, eventsIdempotencyScope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	release := func() {
		if !reserved {
			return
		}
		if err := h.idempotency.Release(context.WithoutCancel(ctx), eventsIdempotencyScope, idempotencyKey); err != nil {
			h.logger.Warn("failed to release idempotency key", zap.Error(err))
		}
	}

	if err := h.store.CreateEvent(ctx, event); err != nil {
		release()
		h.logger.Error("failed to create event",
			zap.Error(err),
			zap.String("type", string(event.Type)),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create event", "")
		return
	}

	h.logger.Info("event created",
		zap.String("id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.String("priority", string(event.Priority)),
	)

	resp := EventResponse{Event: event}
	status := http.StatusCreated

	if h.queue != nil {
		msgID, err := h.queue.EnqueueEvent(ctx, event.ID)
		if err == nil {
			metrics.RecordEventEnqueued()
			h.logger.Info("event enqueued",
				zap.String("event_id", event.ID.String()),
				zap.String("message_id", msgID),
			)
			resp.Queued = true
			status = http.StatusAccepted
		} else {
			// The event is already persisted; generate inline instead.
			h.logger.Warn("failed to enqueue event, generating inline",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
			)
		}
	}

	if !resp.Queued {
		result, err := h.engine.OnEventCreated(ctx, event)
		if err != nil {
			release()
			h.logger.Error("notification generation failed",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
			)
			h.writeDomainError(w, err, "Failed to generate notifications")
			return
		}
		resp.Generation = result
	}

	body := h.writeJSON(w, status, resp)

	if reserved && body != nil {
		result := &redis.IdempotencyResult{
			EventID:    event.ID.String(),
			StatusCode: status,
			Body:       body,
		}
		if err := h.idempotency.Store(context.WithoutCancel(ctx), eventsIdempotencyScope, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}
}

// ListEvents handles GET /v1/events?limit=50, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid limit", err.Error())
		return
	}

	events, err := h.store.ListEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list events", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list events", "")
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[*db.Event]{Data: events, Count: len(events), Limit: limit})
}

// GetEvent handles GET /v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, chi.URLParam(r, "id"), "event ID")
	if !ok {
		return
	}

	event, err := h.store.GetEvent(r.Context(), id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.Error("failed to get event", zap.Error(err), zap.String("id", id.String()))
		}
		h.writeDomainError(w, err, "Event not found")
		return
	}

	h.writeJSON(w, http.StatusOK, event)
}
