package domain

import (
	"context"
	"time"
)

// NotificationRepository defines typed operations over the durable store.
// The store is the single source of truth; all cross-process coordination
// happens through its atomic find-and-modify operations.
type NotificationRepository interface {
	// Insert stores a new notification and returns its assigned id.
	// Returns ErrDuplicateKey when (user_id, idempotency_key) collides.
	Insert(ctx context.Context, n *Notification) (string, error)

	// FindByUserAndIdempotency is the idempotency-hit point lookup.
	FindByUserAndIdempotency(ctx context.Context, userID, idempotencyKey string) (*Notification, error)

	// FindByID returns ErrNotFound for missing or malformed ids.
	FindByID(ctx context.Context, id string) (*Notification, error)

	// ClaimDueChannel atomically claims one due channel by flipping it to
	// SENDING, preferring HIGH over NORMAL over LOW and older notifications
	// within a tier. Returns (nil, nil) when nothing is due.
	ClaimDueChannel(ctx context.Context, now time.Time) (*DeliveryJob, error)

	// RecordAttempt appends a delivery attempt document.
	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error

	// UpdateChannelAfterAttempt writes the post-attempt channel state.
	// A nil nextAttemptAt clears the due time (SENT and FAILED are not
	// claimable again).
	UpdateChannelAfterAttempt(ctx context.Context, id string, ch Channel, status DeliveryStatus, attemptCount int, nextAttemptAt *time.Time, lastError *string, now time.Time) error

	// SetChannelRead marks the given channel READ, or every channel when
	// ch is nil. FAILED channels are left untouched.
	SetChannelRead(ctx context.Context, id string, ch *Channel) error

	// ApplyReceipt applies a provider receipt (DELIVERED or READ)
	// monotonically: FAILED is terminal and DELIVERED never demotes READ;
	// both of those are silent no-ops.
	ApplyReceipt(ctx context.Context, id string, ch Channel, status DeliveryStatus, now time.Time) error

	// AppendEvent pushes an audit event; malformed ids are a no-op.
	AppendEvent(ctx context.Context, id string, ev Event) error

	// UserExists and TemplateExists back the acceptance-path lookups.
	UserExists(ctx context.Context, userID string) (bool, error)
	TemplateExists(ctx context.Context, templateID string) (bool, error)
}

// Cache is a pluggable read-through key/value cache. Values are opaque
// bytes; a nil value with a nil error means a miss. The cache is advisory,
// never authoritative.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
