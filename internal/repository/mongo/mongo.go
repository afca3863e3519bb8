// Package mongo implements the durable store behind the notification
// pipeline. The notification document doubles as queue entry and state
// record; all cross-process coordination runs through atomic
// find-and-modify operations on it.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/courier-one/notification-dispatch/internal/config"
)

const (
	collNotifications = "notifications"
	collUsers         = "users"
	collTemplates     = "notification_templates"
	collAttempts      = "delivery_attempts"
)

// DB wraps the MongoDB client and database handle
type DB struct {
	client   *mongo.Client
	database *mongo.Database
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, cfg config.MongoConfig) (*DB, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &DB{
		client:   client,
		database: client.Database(cfg.Database),
	}, nil
}

// Close disconnects the client.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Health checks the connection.
func (db *DB) Health(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}

// EnsureIndexes creates the indexes the pipeline depends on. Index
// creation is idempotent, so both processes call this at startup.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	notifications := db.database.Collection(collNotifications)
	_, err := notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user_idempotency_key"),
		},
		{
			Keys: bson.D{
				{Key: "channels.status", Value: 1},
				{Key: "channels.next_attempt_at", Value: 1},
				{Key: "priority", Value: 1},
			},
			Options: options.Index().SetName("idx_channels_status_next_attempt_priority"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}

	_, err = db.database.Collection(collUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_email"),
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	_, err = db.database.Collection(collTemplates).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_template_name"),
	})
	if err != nil {
		return fmt.Errorf("failed to create template indexes: %w", err)
	}

	attempts := db.database.Collection(collAttempts)
	_, err = attempts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "notification_id", Value: 1},
				{Key: "channel", Value: 1},
				{Key: "attempt_no", Value: 1},
			},
			Options: options.Index().SetName("idx_attempts_lookup"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_attempts_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}

	return nil
}
