package domain

import (
	"context"
	"encoding/json"
)

// ProviderPayload is the JSON body POSTed to a channel provider's /send
type ProviderPayload struct {
	NotificationID string         `json:"notification_id"`
	UserID         string         `json:"user_id"`
	TemplateID     string         `json:"template_id"`
	TemplateParams map[string]any `json:"template_params"`
	Channel        Channel        `json:"channel"`
	Priority       Priority       `json:"priority"`
}

// ProviderResult is the classified outcome of a provider call.
// StatusCode is nil for network errors, timeouts and unconfigured
// providers; Error is empty on success.
type ProviderResult struct {
	OK         bool
	StatusCode *int
	Response   json.RawMessage
	Error      string
}

// DeliveryProvider sends a notification payload over one channel.
// Failures are folded into the result rather than returned as errors so
// the worker can classify them uniformly.
type DeliveryProvider interface {
	Send(ctx context.Context, channel Channel, payload ProviderPayload) ProviderResult
}

// DeliveryJob is the minimal claimed-channel payload handed to the worker
type DeliveryJob struct {
	NotificationID string
	UserID         string
	TemplateID     string
	TemplateParams map[string]any
	Priority       Priority
	Channel        Channel
	AttemptCount   int
}

// Payload builds the provider payload for this job.
func (j *DeliveryJob) Payload() ProviderPayload {
	params := j.TemplateParams
	if params == nil {
		params = map[string]any{}
	}
	return ProviderPayload{
		NotificationID: j.NotificationID,
		UserID:         j.UserID,
		TemplateID:     j.TemplateID,
		TemplateParams: params,
		Channel:        j.Channel,
		Priority:       j.Priority,
	}
}
