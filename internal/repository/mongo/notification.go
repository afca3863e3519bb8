package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/courier-one/notification-dispatch/internal/domain"
)

// NotificationRepository implements domain.NotificationRepository on MongoDB
type NotificationRepository struct {
	notifications *mongo.Collection
	users         *mongo.Collection
	templates     *mongo.Collection
	attempts      *mongo.Collection
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{
		notifications: db.database.Collection(collNotifications),
		users:         db.database.Collection(collUsers),
		templates:     db.database.Collection(collTemplates),
		attempts:      db.database.Collection(collAttempts),
	}
}

// notificationDoc is the stored shape; _id is an ObjectID while the
// domain entity carries its hex form.
type notificationDoc struct {
	ID             primitive.ObjectID    `bson:"_id,omitempty"`
	IdempotencyKey string                `bson:"idempotency_key"`
	UserID         string                `bson:"user_id"`
	TemplateID     string                `bson:"template_id"`
	TemplateParams map[string]any        `bson:"template_params"`
	Priority       domain.Priority       `bson:"priority"`
	Channels       []domain.ChannelState `bson:"channels"`
	Events         []domain.Event        `bson:"events,omitempty"`
	CreatedAt      time.Time             `bson:"created_at"`
	UpdatedAt      time.Time             `bson:"updated_at"`
}

func (d *notificationDoc) toDomain() *domain.Notification {
	return &domain.Notification{
		ID:             d.ID.Hex(),
		IdempotencyKey: d.IdempotencyKey,
		UserID:         d.UserID,
		TemplateID:     d.TemplateID,
		TemplateParams: d.TemplateParams,
		Priority:       d.Priority,
		Channels:       d.Channels,
		Events:         d.Events,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// Insert stores a new notification. The unique (user_id, idempotency_key)
// index collapses concurrent duplicates into domain.ErrDuplicateKey.
func (r *NotificationRepository) Insert(ctx context.Context, n *domain.Notification) (string, error) {
	doc := notificationDoc{
		IdempotencyKey: n.IdempotencyKey,
		UserID:         n.UserID,
		TemplateID:     n.TemplateID,
		TemplateParams: n.TemplateParams,
		Priority:       n.Priority,
		Channels:       n.Channels,
		Events:         n.Events,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}

	res, err := r.notifications.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", domain.ErrDuplicateKey
		}
		return "", fmt.Errorf("failed to insert notification: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindByUserAndIdempotency is the idempotency-hit point lookup.
func (r *NotificationRepository) FindByUserAndIdempotency(ctx context.Context, userID, idempotencyKey string) (*domain.Notification, error) {
	var doc notificationDoc
	err := r.notifications.FindOne(ctx, bson.M{
		"user_id":         userID,
		"idempotency_key": idempotencyKey,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return doc.toDomain(), nil
}

// FindByID returns domain.ErrNotFound for malformed as well as missing ids.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc notificationDoc
	if err := r.notifications.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return doc.toDomain(), nil
}

// ClaimDueChannel atomically claims one due channel. The positional $
// operator flips exactly the first channel matched by the $elemMatch
// filter to SENDING, which excludes it from every other claimant until
// the post-attempt write. Tiers are tried HIGH, NORMAL, LOW; within a
// tier the oldest notification wins.
func (r *NotificationRepository) ClaimDueChannel(ctx context.Context, now time.Time) (*domain.DeliveryJob, error) {
	claimable := bson.A{}
	for _, s := range domain.ClaimableStatuses() {
		claimable = append(claimable, s)
	}

	for _, priority := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		filter := bson.M{
			"priority": priority,
			"channels": bson.M{"$elemMatch": bson.M{
				"status":          bson.M{"$in": claimable},
				"next_attempt_at": bson.M{"$lte": now},
			}},
		}
		update := bson.M{"$set": bson.M{
			"channels.$.status":     domain.StatusSending,
			"channels.$.updated_at": now,
			"updated_at":            now,
		}}
		// Return the pre-image: the positional $ operator flips the
		// first element matching the $elemMatch condition, so
		// re-evaluating that condition on the pre-image identifies the
		// claimed channel without relying on timestamps, which collide
		// when two workers claim sibling channels in the same
		// millisecond.
		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "created_at", Value: 1}}).
			SetReturnDocument(options.Before)

		var doc notificationDoc
		err := r.notifications.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue
			}
			return nil, fmt.Errorf("failed to claim due channel: %w", err)
		}

		claimed := dueChannel(doc.Channels, now)
		if claimed == nil {
			// Should not happen: the update matched, so the pre-image
			// must contain a due claimable channel.
			continue
		}

		return &domain.DeliveryJob{
			NotificationID: doc.ID.Hex(),
			UserID:         doc.UserID,
			TemplateID:     doc.TemplateID,
			TemplateParams: doc.TemplateParams,
			Priority:       doc.Priority,
			Channel:        claimed.Channel,
			AttemptCount:   claimed.AttemptCount,
		}, nil
	}

	return nil, nil
}

// dueChannel picks the first channel a claim filter's $elemMatch would
// select: claimable status with a due next_attempt_at. Evaluated against
// the claim's pre-image it names exactly the element the positional
// update flipped.
func dueChannel(channels []domain.ChannelState, now time.Time) *domain.ChannelState {
	for i := range channels {
		ch := &channels[i]
		if ch.NextAttemptAt == nil || ch.NextAttemptAt.After(now) {
			continue
		}
		for _, s := range domain.ClaimableStatuses() {
			if ch.Status == s {
				return ch
			}
		}
	}
	return nil
}

// RecordAttempt appends a delivery attempt document.
func (r *NotificationRepository) RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if _, err := r.attempts.InsertOne(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// UpdateChannelAfterAttempt writes the post-attempt channel state. A nil
// nextAttemptAt clears the stored due time; SENT and FAILED channels must
// not look claimable.
func (r *NotificationRepository) UpdateChannelAfterAttempt(ctx context.Context, id string, ch domain.Channel, status domain.DeliveryStatus, attemptCount int, nextAttemptAt *time.Time, lastError *string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	set := bson.M{
		"channels.$.status":        status,
		"channels.$.attempt_count": attemptCount,
		"channels.$.last_error":    lastError,
		"channels.$.updated_at":    now,
		"updated_at":               now,
	}
	if nextAttemptAt != nil {
		set["channels.$.next_attempt_at"] = *nextAttemptAt
	} else {
		set["channels.$.next_attempt_at"] = nil
	}

	res, err := r.notifications.UpdateOne(ctx,
		bson.M{"_id": oid, "channels.channel": ch},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to update channel after attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetChannelRead marks the given channel READ, or all channels when ch is
// nil. FAILED is terminal and is filtered out of the write.
func (r *NotificationRepository) SetChannelRead(ctx context.Context, id string, ch *domain.Channel) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	set := bson.M{
		"channels.$[c].status":     domain.StatusRead,
		"channels.$[c].updated_at": now,
		"updated_at":               now,
	}

	filter := bson.M{"_id": oid}
	arrayFilter := bson.M{"c.status": bson.M{"$ne": domain.StatusFailed}}
	if ch != nil {
		filter["channels.channel"] = *ch
		arrayFilter["c.channel"] = *ch
	}

	res, err := r.notifications.UpdateOne(ctx, filter,
		bson.M{"$set": set},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{arrayFilter},
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to mark channel read: %w", err)
	}
	if res.MatchedCount == 0 {
		if ch != nil {
			// Distinguish unknown notification from unknown channel.
			if _, findErr := r.FindByID(ctx, id); findErr == nil {
				return domain.ErrChannelNotFound
			}
		}
		return domain.ErrNotFound
	}
	return nil
}

// ApplyReceipt applies a provider receipt as a single conditional update
// guarded by the channel's current status. FAILED is terminal; DELIVERED
// never demotes READ. Both cases are silent no-ops.
func (r *NotificationRepository) ApplyReceipt(ctx context.Context, id string, ch domain.Channel, status domain.DeliveryStatus, now time.Time) error {
	if status != domain.StatusDelivered && status != domain.StatusRead {
		return domain.ErrInvalidStatus
	}

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	blocked := bson.A{domain.StatusFailed}
	if status == domain.StatusDelivered {
		blocked = append(blocked, domain.StatusRead)
	}

	res, err := r.notifications.UpdateOne(ctx,
		bson.M{"_id": oid, "channels": bson.M{"$elemMatch": bson.M{
			"channel": ch,
			"status":  bson.M{"$nin": blocked},
		}}},
		bson.M{"$set": bson.M{
			"channels.$.status":     status,
			"channels.$.updated_at": now,
			"updated_at":            now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to apply receipt: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// No conditional match: classify by re-reading. Either the
	// notification or channel is missing, or the transition is a
	// monotonic no-op.
	doc, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	cs := doc.ChannelState(ch)
	if cs == nil {
		return domain.ErrChannelNotFound
	}
	return nil
}

// AppendEvent pushes an audit event onto the notification's journal.
// Malformed ids are a no-op so worker-side journaling never fails a tick.
func (r *NotificationRepository) AppendEvent(ctx context.Context, id string, ev domain.Event) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}

	_, err = r.notifications.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$push": bson.M{"events": ev}},
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// UserExists supports both ObjectID hex ids and custom string ids stored
// in an "id" field.
func (r *NotificationRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	return r.existsByEitherID(ctx, r.users, userID)
}

// TemplateExists mirrors UserExists for the templates collection.
func (r *NotificationRepository) TemplateExists(ctx context.Context, templateID string) (bool, error) {
	return r.existsByEitherID(ctx, r.templates, templateID)
}

func (r *NotificationRepository) existsByEitherID(ctx context.Context, coll *mongo.Collection, id string) (bool, error) {
	filter := bson.M{"id": id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": oid}
	}

	count, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}
