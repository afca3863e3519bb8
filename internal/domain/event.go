package domain

import "time"

// EventType identifies an entry in a notification's audit journal
type EventType string

const (
	EventAccepted        EventType = "ACCEPTED"
	EventIdempotencyHit  EventType = "IDEMPOTENCY_HIT"
	EventClaimed         EventType = "CLAIMED"
	EventProviderSuccess EventType = "PROVIDER_SUCCESS"
	EventRetryScheduled  EventType = "RETRY_SCHEDULED"
	EventFinalFailure    EventType = "FINAL_FAILURE"
	EventProviderReceipt EventType = "PROVIDER_RECEIPT"
	EventReadMarked      EventType = "READ_MARKED"
)

// Event is one append-only audit journal entry on a notification
type Event struct {
	Type               EventType  `bson:"type" json:"type"`
	At                 time.Time  `bson:"at" json:"at"`
	Channel            Channel    `bson:"channel,omitempty" json:"channel,omitempty"`
	Priority           Priority   `bson:"priority,omitempty" json:"priority,omitempty"`
	AttemptNo          int        `bson:"attempt_no,omitempty" json:"attempt_no,omitempty"`
	ProviderStatusCode *int       `bson:"provider_status_code,omitempty" json:"provider_status_code,omitempty"`
	ProviderMessageID  string     `bson:"provider_message_id,omitempty" json:"provider_message_id,omitempty"`
	OccurredAt         *time.Time `bson:"occurred_at,omitempty" json:"occurred_at,omitempty"`
	NextAttemptAt      *time.Time `bson:"next_attempt_at,omitempty" json:"next_attempt_at,omitempty"`
	Error              string     `bson:"error,omitempty" json:"error,omitempty"`
}
