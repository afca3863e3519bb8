// Package service holds the business rules between the HTTP surface and
// the store: idempotent acceptance, status reads, read marking and
// provider receipt handling.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courier-one/notification-dispatch/internal/domain"
)

// NotificationService handles notification business logic
type NotificationService struct {
	repo            domain.NotificationRepository
	cache           domain.Cache
	cacheTTL        time.Duration
	logger          *slog.Logger
	statusBroadcast func(update StatusUpdate)
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	repo domain.NotificationRepository,
	cache domain.Cache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// StatusUpdate is pushed to the broadcast hook whenever a channel's
// delivery state changes through this service.
type StatusUpdate struct {
	NotificationID string                `json:"notification_id"`
	OverallStatus  domain.DeliveryStatus `json:"overall_status"`
	Channels       []domain.ChannelState `json:"channels"`
	At             time.Time             `json:"at"`
}

// SetStatusBroadcast sets the function to broadcast status updates
func (s *NotificationService) SetStatusBroadcast(fn func(update StatusUpdate)) {
	s.statusBroadcast = fn
}

// CreateRequest represents a request to accept a notification
type CreateRequest struct {
	IdempotencyKey string           `json:"idempotency_key" validate:"required,min=1,max=255"`
	UserID         string           `json:"user_id" validate:"required"`
	TemplateID     string           `json:"template_id" validate:"required"`
	TemplateParams map[string]any   `json:"template_params,omitempty"`
	Priority       domain.Priority  `json:"priority,omitempty"`
	Channels       []domain.Channel `json:"channels" validate:"required,min=1"`
}

// CreateResult carries the accepted notification and whether the request
// was collapsed onto a previously accepted one.
type CreateResult struct {
	Notification *domain.Notification
	Deduplicated bool
}

// Create accepts a notification request. The same (user_id,
// idempotency_key) pair always resolves to the same notification: a
// lookup before insert catches most replays, and the unique index
// catches the rest under concurrency.
func (s *NotificationService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, domain.NewValidationError("priority", "invalid priority")
	}

	if len(req.Channels) == 0 {
		return nil, domain.NewValidationError("channels", "at least one channel is required")
	}
	seen := make(map[domain.Channel]bool, len(req.Channels))
	for _, ch := range req.Channels {
		if !ch.IsValid() {
			return nil, domain.NewValidationError("channels", fmt.Sprintf("invalid channel %q", ch))
		}
		if seen[ch] {
			return nil, domain.NewValidationError("channels", fmt.Sprintf("duplicate channel %q", ch))
		}
		seen[ch] = true
	}

	// Replay fast path.
	existing, err := s.repo.FindByUserAndIdempotency(ctx, req.UserID, req.IdempotencyKey)
	if err == nil {
		s.recordIdempotencyHit(ctx, existing)
		return &CreateResult{Notification: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	exists, err := s.userExists(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	exists, err = s.templateExists(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrTemplateNotFound
	}

	notification := domain.NewNotification(req.IdempotencyKey, req.UserID, req.TemplateID, req.TemplateParams, priority, req.Channels)
	notification.Events = []domain.Event{{
		Type:     domain.EventAccepted,
		At:       notification.CreatedAt,
		Priority: priority,
	}}

	id, err := s.repo.Insert(ctx, notification)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			// Lost the race against a concurrent duplicate; the winner's
			// record is authoritative.
			existing, findErr := s.repo.FindByUserAndIdempotency(ctx, req.UserID, req.IdempotencyKey)
			if findErr != nil {
				if errors.Is(findErr, domain.ErrNotFound) {
					return nil, domain.ErrConflict
				}
				return nil, fmt.Errorf("failed to resolve duplicate: %w", findErr)
			}
			s.recordIdempotencyHit(ctx, existing)
			return &CreateResult{Notification: existing, Deduplicated: true}, nil
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	notification.ID = id

	s.logger.Info("notification accepted",
		"notification_id", id,
		"user_id", req.UserID,
		"priority", priority,
		"channels", len(req.Channels),
	)

	return &CreateResult{Notification: notification}, nil
}

// StatusResponse is the read model returned for a notification.
type StatusResponse struct {
	NotificationID string                `json:"notification_id"`
	UserID         string                `json:"user_id"`
	TemplateID     string                `json:"template_id"`
	Priority       domain.Priority       `json:"priority"`
	OverallStatus  domain.DeliveryStatus `json:"overall_status"`
	Channels       []domain.ChannelState `json:"channels"`
	Events         []domain.Event        `json:"events,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func statusResponse(n *domain.Notification) *StatusResponse {
	return &StatusResponse{
		NotificationID: n.ID,
		UserID:         n.UserID,
		TemplateID:     n.TemplateID,
		Priority:       n.Priority,
		OverallStatus:  n.OverallStatus(),
		Channels:       n.Channels,
		Events:         n.Events,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

// GetStatus returns the notification with its derived overall status.
func (s *NotificationService) GetStatus(ctx context.Context, id string) (*StatusResponse, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusResponse(n), nil
}

// MarkRead marks one channel (or all non-FAILED channels when ch is nil)
// as READ and returns the refreshed status.
func (s *NotificationService) MarkRead(ctx context.Context, id string, ch *domain.Channel) (*StatusResponse, error) {
	if ch != nil && !ch.IsValid() {
		return nil, domain.NewValidationError("channel", fmt.Sprintf("invalid channel %q", *ch))
	}

	if err := s.repo.SetChannelRead(ctx, id, ch); err != nil {
		return nil, err
	}

	ev := domain.Event{Type: domain.EventReadMarked, At: time.Now().UTC().Truncate(time.Millisecond)}
	if ch != nil {
		ev.Channel = *ch
	}
	s.appendEvent(ctx, id, ev)

	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.broadcastStatus(n)

	s.logger.Info("notification marked read", "notification_id", id)

	return statusResponse(n), nil
}

// ReceiptRequest is a provider delivery receipt callback.
type ReceiptRequest struct {
	Channel           domain.Channel        `json:"channel" validate:"required"`
	Status            domain.DeliveryStatus `json:"status" validate:"required"`
	ProviderMessageID string                `json:"provider_message_id,omitempty"`
	OccurredAt        *time.Time            `json:"occurred_at,omitempty"`
}

// ApplyReceipt applies a provider receipt to one channel. Receipts are
// monotonic: they never regress READ and never resurrect FAILED. The
// provider's occurred_at is journaled but the channel is stamped with
// service time, keeping updated_at comparable across writers.
func (s *NotificationService) ApplyReceipt(ctx context.Context, id string, req ReceiptRequest) (*StatusResponse, error) {
	if !req.Channel.IsValid() {
		return nil, domain.NewValidationError("channel", fmt.Sprintf("invalid channel %q", req.Channel))
	}
	if req.Status != domain.StatusDelivered && req.Status != domain.StatusRead {
		return nil, domain.NewValidationError("status", "receipt status must be DELIVERED or READ")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.repo.ApplyReceipt(ctx, id, req.Channel, req.Status, now); err != nil {
		return nil, err
	}

	ev := domain.Event{
		Type:              domain.EventProviderReceipt,
		At:                now,
		Channel:           req.Channel,
		ProviderMessageID: req.ProviderMessageID,
	}
	if req.OccurredAt != nil {
		occurred := req.OccurredAt.UTC()
		ev.OccurredAt = &occurred
	}
	s.appendEvent(ctx, id, ev)

	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.broadcastStatus(n)

	s.logger.Info("provider receipt applied",
		"notification_id", id,
		"channel", req.Channel,
		"status", req.Status,
	)

	return statusResponse(n), nil
}

const (
	userKeyPrefix     = "exists:user:"
	templateKeyPrefix = "exists:template:"
)

func (s *NotificationService) userExists(ctx context.Context, id string) (bool, error) {
	return s.cachedExists(ctx, userKeyPrefix+id, func() (bool, error) {
		return s.repo.UserExists(ctx, id)
	})
}

func (s *NotificationService) templateExists(ctx context.Context, id string) (bool, error) {
	return s.cachedExists(ctx, templateKeyPrefix+id, func() (bool, error) {
		return s.repo.TemplateExists(ctx, id)
	})
}

// cachedExists is a read-through existence check. Both outcomes are
// cached so repeated misses do not hammer the store. Cache failures are
// logged and treated as misses; the store stays authoritative.
func (s *NotificationService) cachedExists(ctx context.Context, key string, lookup func() (bool, error)) (bool, error) {
	if value, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("cache get failed", "key", key, "error", err)
	} else if value != nil {
		return string(value) == "1", nil
	}

	exists, err := lookup()
	if err != nil {
		return false, fmt.Errorf("failed existence lookup: %w", err)
	}

	cached := []byte("0")
	if exists {
		cached = []byte("1")
	}
	if err := s.cache.Set(ctx, key, cached, s.cacheTTL); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}

	return exists, nil
}

func (s *NotificationService) recordIdempotencyHit(ctx context.Context, n *domain.Notification) {
	s.appendEvent(ctx, n.ID, domain.Event{
		Type: domain.EventIdempotencyHit,
		At:   time.Now().UTC().Truncate(time.Millisecond),
	})
	s.logger.Info("idempotency hit",
		"notification_id", n.ID,
		"user_id", n.UserID,
	)
}

// appendEvent journals best-effort; the journal never fails a request.
func (s *NotificationService) appendEvent(ctx context.Context, id string, ev domain.Event) {
	if err := s.repo.AppendEvent(ctx, id, ev); err != nil {
		s.logger.Warn("failed to append event",
			"notification_id", id,
			"event", ev.Type,
			"error", err,
		)
	}
}

// broadcastStatus pushes the current state to the WebSocket hub.
func (s *NotificationService) broadcastStatus(n *domain.Notification) {
	if s.statusBroadcast != nil {
		s.statusBroadcast(StatusUpdate{
			NotificationID: n.ID,
			OverallStatus:  n.OverallStatus(),
			Channels:       n.Channels,
			At:             n.UpdatedAt,
		})
	}
}
