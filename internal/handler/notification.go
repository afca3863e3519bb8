package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/courier-one/notification-dispatch/internal/domain"
	"github.com/courier-one/notification-dispatch/internal/service"
)

// ProviderTokenHeader authenticates receipt callbacks when a callback
// token is configured.
const ProviderTokenHeader = "X-Provider-Token"

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	service       *service.NotificationService
	validate      *validator.Validate
	callbackToken string
	metrics       *Metrics
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(service *service.NotificationService, callbackToken string, metrics *Metrics) *NotificationHandler {
	return &NotificationHandler{
		service:       service,
		validate:      validator.New(),
		callbackToken: callbackToken,
		metrics:       metrics,
	}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/{id}", h.GetStatus)
	r.Post("/{id}/read", h.MarkRead)
	r.Post("/{id}/receipt", h.Receipt)
}

// CreateNotificationRequest represents a request to accept a notification
type CreateNotificationRequest struct {
	IdempotencyKey string           `json:"idempotency_key" validate:"required,uuid"`
	UserID         string           `json:"user_id" validate:"required"`
	TemplateID     string           `json:"template_id" validate:"required"`
	TemplateParams map[string]any   `json:"template_params,omitempty"`
	Priority       domain.Priority  `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH"`
	Channels       []domain.Channel `json:"channels" validate:"required,min=1,unique,dive,oneof=EMAIL SMS PUSH"`
}

// Create accepts a notification for delivery. Replays of the same
// (user_id, idempotency_key) return the original notification's id.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	result, err := h.service.Create(r.Context(), service.CreateRequest{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		TemplateParams: req.TemplateParams,
		Priority:       req.Priority,
		Channels:       req.Channels,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	if h.metrics != nil && !result.Deduplicated {
		h.metrics.RecordAccepted(string(result.Notification.Priority))
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	JSON(w, status, map[string]any{
		"notification_id": result.Notification.ID,
		"deduplicated":    result.Deduplicated,
	})
}

// GetStatus returns a notification with its derived overall status
func (h *NotificationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

// MarkReadRequest selects which channel to mark READ; absent means all.
type MarkReadRequest struct {
	Channel *domain.Channel `json:"channel,omitempty" validate:"omitempty,oneof=EMAIL SMS PUSH"`
}

// MarkRead marks one or all channels of a notification as READ
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &req); err != nil {
			HandleError(w, err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", err.Error())
			return
		}
	}

	status, err := h.service.MarkRead(r.Context(), chi.URLParam(r, "id"), req.Channel)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, status)
}

// ReceiptRequest represents a provider delivery receipt callback
type ReceiptRequest struct {
	Channel           domain.Channel `json:"channel" validate:"required,oneof=EMAIL SMS PUSH"`
	Event             string         `json:"event" validate:"required,oneof=DELIVERED READ"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	OccurredAt        *time.Time     `json:"occurred_at,omitempty"`
}

// Receipt applies a provider receipt to a notification channel
func (h *NotificationHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	if h.callbackToken != "" {
		token := r.Header.Get(ProviderTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
			HandleError(w, domain.ErrUnauthorized)
			return
		}
	}

	var req ReceiptRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	status, err := h.service.ApplyReceipt(r.Context(), chi.URLParam(r, "id"), service.ReceiptRequest{
		Channel:           req.Channel,
		Status:            domain.DeliveryStatus(req.Event),
		ProviderMessageID: req.ProviderMessageID,
		OccurredAt:        req.OccurredAt,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordReceipt(string(req.Channel), req.Event)
	}

	JSON(w, http.StatusOK, status)
}
