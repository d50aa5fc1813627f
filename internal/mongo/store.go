package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

const (
	eventsCollection        = "events"
	usersCollection         = "users"
	notificationsCollection = "notifications"
)

// Store is the MongoDB implementation of db.Store. Uniqueness of the
// (user_id, event_id, channel) triple is enforced by a unique compound index.
type Store struct {
	database      *mongo.Database
	events        *mongo.Collection
	users         *mongo.Collection
	notifications *mongo.Collection
	logger        *zap.Logger
	now           func() time.Time
}

var _ db.Store = (*Store)(nil)

// NewStore binds the collections and makes sure the indexes exist.
func NewStore(ctx context.Context, database *mongo.Database, logger *zap.Logger) (*Store, error) {
	s := &Store{
		database:      database,
		events:        database.Collection(eventsCollection),
		users:         database.Collection(usersCollection),
		notifications: database.Collection(notificationsCollection),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "event_id", Value: 1}, {Key: "channel", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("user_event_channel_unique"),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}

	_, err = s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
		{
			Keys: bson.D{{Key: "preferences.event_type", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}

	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return Healthcheck(s.database.Client())(ctx)
}

func (s *Store) CreateEvent(ctx context.Context, event *db.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = s.now()

	if _, err := s.events.InsertOne(ctx, toEventDoc(event)); err != nil {
		s.logger.Error("failed to create event",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	var doc eventDoc
	err := s.events.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return doc.toModel()
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]*db.Event, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))

	cursor, err := s.events.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}

	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]*db.Event, 0, len(docs))
	for _, doc := range docs {
		e, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *Store) CreateUser(ctx context.Context, user *db.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := s.users.InsertOne(ctx, toUserDoc(user))
	if mongo.IsDuplicateKeyError(err) {
		return db.ErrDuplicateEmail
	}
	if err != nil {
		s.logger.Error("failed to create user", zap.Error(err))
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*db.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toModel()
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]*db.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))
	return s.findUsers(ctx, bson.M{}, opts)
}

func (s *Store) UpdateUserPreferences(ctx context.Context, id uuid.UUID, prefs []db.Preference) (*db.User, error) {
	if prefs == nil {
		prefs = []db.Preference{}
	}
	update := bson.M{"$set": bson.M{"preferences": prefs, "updated_at": s.now()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return doc.toModel()
}

func (s *Store) FindUsersByPreference(ctx context.Context, eventType db.EventType) ([]*db.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findUsers(ctx, bson.M{"preferences.event_type": string(eventType)}, opts)
}

func (s *Store) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*db.User, error) {
	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]*db.User, 0, len(docs))
	for _, doc := range docs {
		u, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// InsertNotificationIfAbsent maps a duplicate key error on the compound index
// to "already exists".
func (s *Store) InsertNotificationIfAbsent(ctx context.Context, n *db.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now

	_, err := s.notifications.InsertOne(ctx, toNotificationDoc(n))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error) {
	var doc notificationDoc
	err := s.notifications.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return doc.toModel()
}

func (s *Store) FindNotifications(ctx context.Context, filter db.NotificationFilter) ([]*db.Notification, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(filter.EffectiveLimit()))

	return s.findNotifications(ctx, notificationQuery(filter), opts)
}

func (s *Store) FindPendingByPriority(ctx context.Context, priority db.Priority) ([]*db.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	query := bson.M{"status": string(db.StatusPending), "priority": string(priority)}
	return s.findNotifications(ctx, query, opts)
}

// UpdateNotificationStatus matches on status=pending so a terminal record is
// never overwritten.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status db.Status, sentAt *time.Time) (bool, error) {
	if !status.Terminal() {
		return false, db.ErrInvalidTransition
	}

	set := bson.M{"status": string(status), "updated_at": s.now()}
	if sentAt != nil {
		set["sent_at"] = sentAt.UTC()
	}

	result, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(db.StatusPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		s.logger.Error("failed to update notification status",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return false, fmt.Errorf("update notification status: %w", err)
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	count, err := s.notifications.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if count == 0 {
		return false, db.ErrNotFound
	}
	return false, nil
}

func (s *Store) findNotifications(ctx context.Context, query bson.M, opts *options.FindOptionsBuilder) ([]*db.Notification, error) {
	cursor, err := s.notifications.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}

	var docs []notificationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}

	out := make([]*db.Notification, 0, len(docs))
	for _, doc := range docs {
		n, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func notificationQuery(f db.NotificationFilter) bson.M {
	query := bson.M{}
	if f.UserID != nil {
		query["user_id"] = f.UserID.String()
	}
	if f.EventID != nil {
		query["event_id"] = f.EventID.String()
	}
	if f.EventType != nil {
		query["event_type"] = string(*f.EventType)
	}
	if f.Priority != nil {
		query["priority"] = string(*f.Priority)
	}
	if f.Status != nil {
		query["status"] = string(*f.Status)
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		window := bson.M{}
		if f.CreatedFrom != nil {
			window["$gte"] = f.CreatedFrom.UTC()
		}
		if f.CreatedTo != nil {
			window["$lte"] = f.CreatedTo.UTC()
		}
		query["created_at"] = window
	}
	return query
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > db.MaxFilterLimit {
		return db.MaxFilterLimit
	}
	return limit
}
