package domain

import (
	"time"
)

// Channel represents a delivery modality
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Channels lists all valid channels in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// DeliveryStatus is the per-channel delivery state
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "QUEUED"
	StatusSending   DeliveryStatus = "SENDING"
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
	StatusRetryDue  DeliveryStatus = "RETRY_DUE"
	StatusFailed    DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusDelivered, StatusRead, StatusRetryDue, StatusFailed:
		return true
	}
	return false
}

// ClaimableStatuses are the statuses eligible for a worker claim.
func ClaimableStatuses() []DeliveryStatus {
	return []DeliveryStatus{StatusQueued, StatusRetryDue}
}

// ChannelState tracks one channel's delivery progress inside a notification
type ChannelState struct {
	Channel       Channel        `bson:"channel" json:"channel"`
	Status        DeliveryStatus `bson:"status" json:"status"`
	AttemptCount  int            `bson:"attempt_count" json:"attempt_count"`
	LastError     *string        `bson:"last_error" json:"last_error"`
	NextAttemptAt *time.Time     `bson:"next_attempt_at" json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updated_at"`
}

// Notification is the accepted request together with its fan-out plan and state
type Notification struct {
	ID             string         `bson:"_id,omitempty" json:"id"`
	IdempotencyKey string         `bson:"idempotency_key" json:"idempotency_key"`
	UserID         string         `bson:"user_id" json:"user_id"`
	TemplateID     string         `bson:"template_id" json:"template_id"`
	TemplateParams map[string]any `bson:"template_params" json:"template_params,omitempty"`
	Priority       Priority       `bson:"priority" json:"priority"`
	Channels       []ChannelState `bson:"channels" json:"channels"`
	Events         []Event        `bson:"events,omitempty" json:"events,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
}

// NewNotification builds a notification with one QUEUED channel state per
// requested channel, all due immediately.
func NewNotification(idempotencyKey, userID, templateID string, params map[string]any, priority Priority, channels []Channel) *Notification {
	now := time.Now().UTC().Truncate(time.Millisecond)
	states := make([]ChannelState, 0, len(channels))
	for _, ch := range channels {
		due := now
		states = append(states, ChannelState{
			Channel:       ch,
			Status:        StatusQueued,
			AttemptCount:  0,
			NextAttemptAt: &due,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return &Notification{
		IdempotencyKey: idempotencyKey,
		UserID:         userID,
		TemplateID:     templateID,
		TemplateParams: params,
		Priority:       priority,
		Channels:       states,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ChannelState returns the state record for the given channel, or nil.
func (n *Notification) ChannelState(ch Channel) *ChannelState {
	for i := range n.Channels {
		if n.Channels[i].Channel == ch {
			return &n.Channels[i]
		}
	}
	return nil
}

// OverallStatus derives the read-only summary status for this notification.
func (n *Notification) OverallStatus() DeliveryStatus {
	return DeriveOverallStatus(n.Channels)
}

// DeriveOverallStatus computes the overall status from a set of channel
// states. It is a pure function of the multiset of statuses: FAILED
// dominates, then READ/DELIVERED/SENT when every channel has reached at
// least that far, then in-flight and scheduled states, else QUEUED.
func DeriveOverallStatus(channels []ChannelState) DeliveryStatus {
	if len(channels) == 0 {
		return StatusQueued
	}

	statuses := make(map[DeliveryStatus]bool, len(channels))
	for _, c := range channels {
		statuses[c.Status] = true
	}

	subset := func(allowed ...DeliveryStatus) bool {
		ok := make(map[DeliveryStatus]bool, len(allowed))
		for _, a := range allowed {
			ok[a] = true
		}
		for s := range statuses {
			if !ok[s] {
				return false
			}
		}
		return true
	}

	switch {
	case statuses[StatusFailed]:
		return StatusFailed
	case subset(StatusRead):
		return StatusRead
	case subset(StatusDelivered, StatusRead):
		return StatusDelivered
	case subset(StatusSent, StatusDelivered, StatusRead):
		return StatusSent
	case statuses[StatusSending]:
		return StatusSending
	case statuses[StatusRetryDue]:
		return StatusRetryDue
	default:
		return StatusQueued
	}
}

type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "SUCCESS"
	OutcomeFailure AttemptOutcome = "FAILURE"
)

// DeliveryAttempt is one append-only record of a provider dispatch
type DeliveryAttempt struct {
	NotificationID     string         `bson:"notification_id" json:"notification_id"`
	Channel            Channel        `bson:"channel" json:"channel"`
	AttemptNo          int            `bson:"attempt_no" json:"attempt_no"`
	Outcome            AttemptOutcome `bson:"outcome" json:"outcome"`
	ProviderStatusCode *int           `bson:"provider_status_code" json:"provider_status_code"`
	ProviderResponse   any            `bson:"provider_response" json:"provider_response,omitempty"`
	Error              *string        `bson:"error" json:"error"`
	CreatedAt          time.Time      `bson:"created_at" json:"created_at"`
}
