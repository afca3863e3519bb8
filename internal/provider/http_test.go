package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/domain"
)

func testPayload() domain.ProviderPayload {
	return domain.ProviderPayload{
		NotificationID: "6650f0a2e1b2c3d4e5f60718",
		UserID:         "user_001",
		TemplateID:     "tpl_001",
		TemplateParams: map[string]any{"name": "Ada"},
		Channel:        domain.ChannelEmail,
		Priority:       domain.PriorityNormal,
	}
}

func clientFor(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return NewClient(config.ProviderConfig{
		Endpoints: map[domain.Channel]config.ProviderEndpoint{
			domain.ChannelEmail: {BaseURL: baseURL, APIKey: apiKey},
		},
		Timeout: timeout,
	})
}

func TestClient_Send_Success(t *testing.T) {
	var gotAuth string
	var gotBody domain.ProviderPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message_id":"msg-123"}`))
	}))
	defer srv.Close()

	result := clientFor(srv.URL, "secret-key", 0).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.True(t, result.OK)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusOK, *result.StatusCode)
	assert.Empty(t, result.Error)
	assert.JSONEq(t, `{"message_id":"msg-123"}`, string(result.Response))
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "user_001", gotBody.UserID)
	assert.Equal(t, domain.ChannelEmail, gotBody.Channel)
}

func TestClient_Send_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	result := clientFor(srv.URL, "", 0).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.True(t, result.OK)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusAccepted, *result.StatusCode)
}

func TestClient_Send_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	result := clientFor(srv.URL, "", 0).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.False(t, result.OK)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, *result.StatusCode)
	assert.Equal(t, "non-2xx provider response", result.Error)
	assert.JSONEq(t, `{"error":"overloaded"}`, string(result.Response))
}

func TestClient_Send_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := clientFor(srv.URL, "", 20*time.Millisecond).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.False(t, result.OK)
	assert.Nil(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestClient_Send_ConnectionRefused(t *testing.T) {
	result := clientFor("http://127.0.0.1:1", "", 0).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.False(t, result.OK)
	assert.Nil(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestClient_Send_UnconfiguredChannel(t *testing.T) {
	result := clientFor("", "", 0).Send(context.Background(), domain.ChannelSMS, testPayload())

	assert.False(t, result.OK)
	assert.Nil(t, result.StatusCode)
	assert.Equal(t, "Provider base URL not configured", result.Error)
}

func TestClient_Send_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	result := clientFor(srv.URL, "", 0).Send(context.Background(), domain.ChannelEmail, testPayload())

	assert.False(t, result.OK)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusBadGateway, *result.StatusCode)
	assert.Nil(t, result.Response)
}
