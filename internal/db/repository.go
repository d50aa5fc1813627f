package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var notificationColumns = []string{
	"id", "user_id", "event_id", "event_type", "priority", "channel",
	"title", "description", "status", "sent_at", "fingerprint",
	"created_at", "updated_at",
}

// Repository is the PostgreSQL implementation of Store.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new PostgreSQL-backed store
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateEvent inserts a new event
func (r *Repository) CreateEvent(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO events (id, type, priority, title, description, processed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		event.ID,
		string(event.Type),
		string(event.Priority),
		event.Data.Title,
		event.Data.Description,
		event.Processed,
	).Scan(&event.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create event",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by ID
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, type, priority, title, description, processed, created_at
		FROM events
		WHERE id = $1
	`

	event, err := scanEvent(r.db.Pool().QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	return event, nil
}

// ListEvents returns events newest first
func (r *Repository) ListEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, type, priority, title, description, processed, created_at
		FROM events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                   Event
		eventType, priority string
	)
	if err := row.Scan(
		&e.ID,
		&eventType,
		&priority,
		&e.Data.Title,
		&e.Data.Description,
		&e.Processed,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Type = EventType(eventType)
	e.Priority = Priority(priority)
	return &e, nil
}

// CreateUser inserts a user; a taken email yields ErrDuplicateEmail
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	prefs, err := json.Marshal(preferencesOrEmpty(user.Preferences))
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query := `
		INSERT INTO users (id, name, email, phone, preferences)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Phone,
		string(prefs),
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		r.logger.Error("failed to create user", zap.Error(err))
		return fmt.Errorf("insert user: %w", err)
	}

	r.logger.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.Int("preferences", len(user.Preferences)),
	)

	return nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, name, email, phone, preferences, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListUsers returns users newest first
func (r *Repository) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	query := `
		SELECT id, name, email, phone, preferences, created_at, updated_at
		FROM users
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return collectUsers(rows)
}

// UpdateUserPreferences replaces the preference list of a user
func (r *Repository) UpdateUserPreferences(ctx context.Context, id uuid.UUID, prefs []Preference) (*User, error) {
	encoded, err := json.Marshal(preferencesOrEmpty(prefs))
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	query := `
		UPDATE users
		SET preferences = $1::jsonb, updated_at = NOW()
		WHERE id = $2
		RETURNING id, name, email, phone, preferences, created_at, updated_at
	`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, string(encoded), id))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}

	r.logger.Info("user preferences updated", zap.String("user_id", id.String()))
	return user, nil
}

// FindUsersByPreference uses JSONB containment so the GIN index serves the lookup.
func (r *Repository) FindUsersByPreference(ctx context.Context, eventType EventType) ([]*User, error) {
	probe, err := json.Marshal([]map[string]string{{"event_type": string(eventType)}})
	if err != nil {
		return nil, fmt.Errorf("encode preference probe: %w", err)
	}

	query := `
		SELECT id, name, email, phone, preferences, created_at, updated_at
		FROM users
		WHERE preferences @> $1::jsonb
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool().Query(ctx, query, string(probe))
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*User, error) {
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		prefs []byte
	)
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&prefs,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &u, nil
}

// InsertNotificationIfAbsent relies on the (user_id, event_id, channel) unique
// constraint. ON CONFLICT DO NOTHING returns no row when the triple exists.
func (r *Repository) InsertNotificationIfAbsent(ctx context.Context, n *Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	query := `
		INSERT INTO notifications (
			id, user_id, event_id, event_type, priority, channel,
			title, description, status, fingerprint
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (user_id, event_id, channel) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.EventID,
		string(n.EventType),
		string(n.Priority),
		string(n.Channel),
		n.Title,
		n.Description,
		string(n.Status),
		n.Fingerprint,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if isNoRows(err) || IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return false, fmt.Errorf("insert notification: %w", err)
	}

	return true, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query, args, err := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build notification query: %w", err)
	}

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, args...))
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// FindNotifications applies every set field of the filter
func (r *Repository) FindNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	query, args, err := buildNotificationQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	return collectNotifications(rows)
}

func buildNotificationQuery(filter NotificationFilter) (string, []any, error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}

	q := psql.Select(notificationColumns...).From("notifications")

	if filter.UserID != nil {
		q = q.Where(sq.Eq{"user_id": *filter.UserID})
	}
	if filter.EventID != nil {
		q = q.Where(sq.Eq{"event_id": *filter.EventID})
	}
	if filter.EventType != nil {
		q = q.Where(sq.Eq{"event_type": string(*filter.EventType)})
	}
	if filter.Priority != nil {
		q = q.Where(sq.Eq{"priority": string(*filter.Priority)})
	}
	if filter.Status != nil {
		q = q.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.CreatedFrom != nil {
		q = q.Where(sq.GtOrEq{"created_at": *filter.CreatedFrom})
	}
	if filter.CreatedTo != nil {
		q = q.Where(sq.LtOrEq{"created_at": *filter.CreatedTo})
	}

	query, args, err := q.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.EffectiveLimit())).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build notification query: %w", err)
	}
	return query, args, nil
}

// FindPendingByPriority returns every pending notification of the priority, oldest first
func (r *Repository) FindPendingByPriority(ctx context.Context, priority Priority) ([]*Notification, error) {
	query, args, err := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"status": string(StatusPending), "priority": string(priority)}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	return collectNotifications(rows)
}

// UpdateNotificationStatus only touches rows that are still pending, so a
// terminal status is never overwritten.
func (r *Repository) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status Status, sentAt *time.Time) (bool, error) {
	if !status.Terminal() {
		return false, ErrInvalidTransition
	}

	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, string(status), sentAt, id)
	if err != nil {
		r.logger.Error("failed to update notification status",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return false, fmt.Errorf("update notification status: %w", err)
	}

	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = r.db.Pool().QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func collectNotifications(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

func scanNotification(row rowScanner) (*Notification, error) {
	var (
		n                                    Notification
		eventType, priority, channel, status string
	)
	if err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.EventID,
		&eventType,
		&priority,
		&channel,
		&n.Title,
		&n.Description,
		&status,
		&n.SentAt,
		&n.Fingerprint,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	n.EventType = EventType(eventType)
	n.Priority = Priority(priority)
	n.Channel = Channel(channel)
	n.Status = Status(status)
	return &n, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > MaxFilterLimit {
		return MaxFilterLimit
	}
	return limit
}

func preferencesOrEmpty(prefs []Preference) []Preference {
	if prefs == nil {
		return []Preference{}
	}
	return prefs
}
