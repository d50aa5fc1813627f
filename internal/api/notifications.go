package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/engine"
)

const dateLayout = "2006-01-02"

// BulkRequest represents the body of POST /v1/notifications/{userId}/bulk
type BulkRequest struct {
	Notifications []engine.BulkItem `json:"notifications"`
}

// ListNotifications handles GET /v1/notifications, newest first.
// Optional filters: user_id, event_id, type, priority, status, start_date, end_date, limit.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseNotificationFilter(q, nil)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid filter", err.Error())
		return
	}
	if filter.UserID, err = parseOptionalID(q, "user_id"); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid filter", err.Error())
		return
	}
	if filter.EventID, err = parseOptionalID(q, "event_id"); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid filter", err.Error())
		return
	}

	h.findNotifications(w, r, filter)
}

// ListUserNotifications handles GET /v1/notifications/{userId}.
// status defaults to sent.
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userId"), "user ID")
	if !ok {
		return
	}

	sent := db.StatusSent
	filter, err := parseNotificationFilter(r.URL.Query(), &sent)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid filter", err.Error())
		return
	}
	filter.UserID = &userID

	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		h.writeDomainError(w, err, "User not found")
		return
	}

	h.findNotifications(w, r, filter)
}

func (h *Handler) findNotifications(w http.ResponseWriter, r *http.Request, filter db.NotificationFilter) {
	notifications, err := h.store.FindNotifications(r.Context(), filter)
	if err != nil {
		if db.IsValidationError(err) {
			h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid filter", err.Error())
			return
		}
		h.logger.Error("failed to list notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}
	if notifications == nil {
		notifications = []*db.Notification{}
	}

	h.logger.Debug("notifications listed", zap.Int("count", len(notifications)))

	h.writeJSON(w, http.StatusOK, ListResponse[*db.Notification]{
		Data:  notifications,
		Count: len(notifications),
		Limit: filter.EffectiveLimit(),
	})
}

// BulkNotify handles POST /v1/notifications/{userId}/bulk
func (h *Handler) BulkNotify(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.parseID(w, chi.URLParam(r, "userId"), "user ID")
	if !ok {
		return
	}

	var req BulkRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.engine.OnBulkNotifyRequested(r.Context(), userID, req.Notifications)
	if err != nil {
		h.logger.Warn("bulk notify failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeDomainError(w, err, "Bulk notify failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RunBatch handles POST /v1/batch/run, an operator trigger for the LOW priority sweep.
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.OnBatchTick(r.Context())
	if err != nil {
		h.logger.Error("batch sweep failed", zap.Error(err))
		h.writeDomainError(w, err, "Batch sweep failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// parseNotificationFilter reads type, priority, status, start_date, end_date
// and limit. Unknown values are rejected rather than ignored.
func parseNotificationFilter(q url.Values, defaultStatus *db.Status) (db.NotificationFilter, error) {
	var filter db.NotificationFilter

	if raw := q.Get("type"); raw != "" {
		t := db.EventType(raw)
		filter.EventType = &t
	}
	if raw := q.Get("priority"); raw != "" {
		p := db.Priority(raw)
		filter.Priority = &p
	}

	filter.Status = defaultStatus
	if raw := q.Get("status"); raw != "" {
		s := db.Status(raw)
		filter.Status = &s
	}

	var err error
	if filter.CreatedFrom, err = parseDate(q, "start_date", false); err != nil {
		return filter, err
	}
	if filter.CreatedTo, err = parseDate(q, "end_date", true); err != nil {
		return filter, err
	}

	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return filter, err
	}

	return filter, filter.Validate()
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(q url.Values, field string, endOfDay bool) (*time.Time, error) {
	raw := q.Get(field)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, &db.ValidationError{Field: field, Reason: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseOptionalID(q url.Values, field string) (*uuid.UUID, error) {
	raw := q.Get(field)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &db.ValidationError{Field: field, Reason: "must be a valid UUID"}
	}
	return &id, nil
}
