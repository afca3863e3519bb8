package worker

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/domain"
)

// MockRepository is a mock implementation of domain.NotificationRepository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, n *domain.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) FindByUserAndIdempotency(ctx context.Context, userID, idempotencyKey string) (*domain.Notification, error) {
	args := m.Called(ctx, userID, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockRepository) FindByID(ctx context.Context, id string) (*domain.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Notification), args.Error(1)
}

func (m *MockRepository) ClaimDueChannel(ctx context.Context, now time.Time) (*domain.DeliveryJob, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeliveryJob), args.Error(1)
}

func (m *MockRepository) RecordAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockRepository) UpdateChannelAfterAttempt(ctx context.Context, id string, ch domain.Channel, status domain.DeliveryStatus, attemptCount int, nextAttemptAt *time.Time, lastError *string, now time.Time) error {
	args := m.Called(ctx, id, ch, status, attemptCount, nextAttemptAt, lastError, now)
	return args.Error(0)
}

func (m *MockRepository) SetChannelRead(ctx context.Context, id string, ch *domain.Channel) error {
	args := m.Called(ctx, id, ch)
	return args.Error(0)
}

func (m *MockRepository) ApplyReceipt(ctx context.Context, id string, ch domain.Channel, status domain.DeliveryStatus, now time.Time) error {
	args := m.Called(ctx, id, ch, status, now)
	return args.Error(0)
}

func (m *MockRepository) AppendEvent(ctx context.Context, id string, ev domain.Event) error {
	args := m.Called(ctx, id, ev)
	return args.Error(0)
}

func (m *MockRepository) UserExists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) TemplateExists(ctx context.Context, templateID string) (bool, error) {
	args := m.Called(ctx, templateID)
	return args.Bool(0), args.Error(1)
}

// stubProvider returns a fixed result and records the payload it saw.
type stubProvider struct {
	result domain.ProviderResult

	gotChannel domain.Channel
	gotPayload domain.ProviderPayload
}

func (s *stubProvider) Send(ctx context.Context, channel domain.Channel, payload domain.ProviderPayload) domain.ProviderResult {
	s.gotChannel = channel
	s.gotPayload = payload
	return s.result
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    300 * time.Second,
		JitterRatio: 0.2,
	}
}

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

func newTestProcessor(t *testing.T, repo domain.NotificationRepository, provider domain.DeliveryProvider) *Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewProcessor(repo, provider, logger, testRetryConfig(), testProviderConfig(), config.WorkerConfig{
		PollInterval: 10 * time.Millisecond,
	})
}

func testJob(attemptCount int) *domain.DeliveryJob {
	return &domain.DeliveryJob{
		NotificationID: "6650f0a2e1b2c3d4e5f60718",
		UserID:         "user_001",
		TemplateID:     "tpl_001",
		TemplateParams: map[string]any{"name": "Ada"},
		Priority:       domain.PriorityHigh,
		Channel:        domain.ChannelEmail,
		AttemptCount:   attemptCount,
	}
}

func intPtr(n int) *int { return &n }

func TestRetryPolicy_Delay(t *testing.T) {
	policy := NewRetryPolicy(testRetryConfig())

	t.Run("grows exponentially within jitter bounds", func(t *testing.T) {
		expectations := []struct {
			attemptNo int
			base      time.Duration
		}{
			{1, 2 * time.Second},
			{2, 4 * time.Second},
			{3, 8 * time.Second},
			{4, 16 * time.Second},
		}
		for _, tc := range expectations {
			for i := 0; i < 50; i++ {
				delay := policy.Delay(tc.attemptNo)
				lo := time.Duration(float64(tc.base) * 0.8)
				hi := time.Duration(float64(tc.base) * 1.2)
				assert.GreaterOrEqual(t, delay, lo, "attempt %d", tc.attemptNo)
				assert.LessOrEqual(t, delay, hi, "attempt %d", tc.attemptNo)
			}
		}
	})

	t.Run("caps before jitter", func(t *testing.T) {
		// 2s * 2^9 = 1024s, well past the 300s cap.
		for i := 0; i < 50; i++ {
			delay := policy.Delay(10)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(300*time.Second)*0.8))
			assert.LessOrEqual(t, delay, time.Duration(float64(300*time.Second)*1.2))
		}
	})

	t.Run("no jitter is deterministic", func(t *testing.T) {
		flat := NewRetryPolicy(config.RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
			JitterRatio: 0,
		})
		assert.Equal(t, time.Second, flat.Delay(1))
		assert.Equal(t, 2*time.Second, flat.Delay(2))
		assert.Equal(t, 32*time.Second, flat.Delay(6))
		assert.Equal(t, time.Minute, flat.Delay(7))
	})
}

func TestProcessor_Retryable(t *testing.T) {
	p := newTestProcessor(t, new(MockRepository), &stubProvider{})

	assert.True(t, p.retryable(nil), "no status code means provider unreachable")
	assert.True(t, p.retryable(intPtr(503)))
	assert.True(t, p.retryable(intPtr(429)))
	assert.False(t, p.retryable(intPtr(400)))
	assert.False(t, p.retryable(intPtr(401)))
	assert.False(t, p.retryable(intPtr(422)))
}

func TestProcessor_ProcessJob(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks channel sent", func(t *testing.T) {
		repo := new(MockRepository)
		code := 200
		provider := &stubProvider{result: domain.ProviderResult{OK: true, StatusCode: &code}}
		p := newTestProcessor(t, repo, provider)

		repo.On("AppendEvent", ctx, "6650f0a2e1b2c3d4e5f60718", mock.AnythingOfType("domain.Event")).Return(nil)
		repo.On("RecordAttempt", ctx, mock.MatchedBy(func(a *domain.DeliveryAttempt) bool {
			return a.AttemptNo == 1 && a.Outcome == domain.OutcomeSuccess
		})).Return(nil).Once()
		repo.On("UpdateChannelAfterAttempt", ctx, "6650f0a2e1b2c3d4e5f60718", domain.ChannelEmail,
			domain.StatusSent, 1, (*time.Time)(nil), (*string)(nil), mock.AnythingOfType("time.Time")).Return(nil).Once()

		p.processJob(ctx, testJob(0), time.Now().UTC())

		assert.Equal(t, domain.ChannelEmail, provider.gotChannel)
		assert.Equal(t, "user_001", provider.gotPayload.UserID)
		repo.AssertExpectations(t)
	})

	t.Run("retryable failure schedules retry", func(t *testing.T) {
		repo := new(MockRepository)
		code := 503
		provider := &stubProvider{result: domain.ProviderResult{OK: false, StatusCode: &code, Error: "non-2xx provider response"}}
		p := newTestProcessor(t, repo, provider)

		var gotNext *time.Time
		repo.On("AppendEvent", ctx, mock.Anything, mock.AnythingOfType("domain.Event")).Return(nil)
		repo.On("RecordAttempt", ctx, mock.MatchedBy(func(a *domain.DeliveryAttempt) bool {
			return a.Outcome == domain.OutcomeFailure && a.ProviderStatusCode != nil && *a.ProviderStatusCode == 503
		})).Return(nil).Once()
		repo.On("UpdateChannelAfterAttempt", ctx, "6650f0a2e1b2c3d4e5f60718", domain.ChannelEmail,
			domain.StatusRetryDue, 3, mock.AnythingOfType("*time.Time"), mock.AnythingOfType("*string"), mock.AnythingOfType("time.Time")).
			Run(func(args mock.Arguments) {
				gotNext = args.Get(5).(*time.Time)
			}).Return(nil).Once()

		before := time.Now().UTC()
		p.processJob(ctx, testJob(2), before)

		require.NotNil(t, gotNext)
		// Third failure backs off 2s * 2^2 = 8s +/- 20%.
		assert.True(t, gotNext.After(before.Add(6*time.Second)))
		assert.True(t, gotNext.Before(before.Add(11*time.Second)))
		repo.AssertExpectations(t)
	})

	t.Run("non-retryable failure fails immediately", func(t *testing.T) {
		repo := new(MockRepository)
		code := 400
		provider := &stubProvider{result: domain.ProviderResult{OK: false, StatusCode: &code, Error: "non-2xx provider response"}}
		p := newTestProcessor(t, repo, provider)

		repo.On("AppendEvent", ctx, mock.Anything, mock.AnythingOfType("domain.Event")).Return(nil)
		repo.On("RecordAttempt", ctx, mock.AnythingOfType("*domain.DeliveryAttempt")).Return(nil).Once()
		repo.On("UpdateChannelAfterAttempt", ctx, "6650f0a2e1b2c3d4e5f60718", domain.ChannelEmail,
			domain.StatusFailed, 1, (*time.Time)(nil), mock.AnythingOfType("*string"), mock.AnythingOfType("time.Time")).Return(nil).Once()

		p.processJob(ctx, testJob(0), time.Now().UTC())

		repo.AssertExpectations(t)
	})

	t.Run("retryable failure on last attempt fails permanently", func(t *testing.T) {
		repo := new(MockRepository)
		provider := &stubProvider{result: domain.ProviderResult{OK: false, Error: "context deadline exceeded"}}
		p := newTestProcessor(t, repo, provider)

		repo.On("AppendEvent", ctx, mock.Anything, mock.AnythingOfType("domain.Event")).Return(nil)
		repo.On("RecordAttempt", ctx, mock.MatchedBy(func(a *domain.DeliveryAttempt) bool {
			return a.AttemptNo == 5 && a.ProviderStatusCode == nil
		})).Return(nil).Once()
		repo.On("UpdateChannelAfterAttempt", ctx, "6650f0a2e1b2c3d4e5f60718", domain.ChannelEmail,
			domain.StatusFailed, 5, (*time.Time)(nil), mock.AnythingOfType("*string"), mock.AnythingOfType("time.Time")).Return(nil).Once()

		// Four attempts already spent; the fifth is the last.
		p.processJob(ctx, testJob(4), time.Now().UTC())

		repo.AssertExpectations(t)
	})

	t.Run("timeout without status code retries", func(t *testing.T) {
		repo := new(MockRepository)
		provider := &stubProvider{result: domain.ProviderResult{OK: false, Error: "context deadline exceeded"}}
		p := newTestProcessor(t, repo, provider)

		repo.On("AppendEvent", ctx, mock.Anything, mock.AnythingOfType("domain.Event")).Return(nil)
		repo.On("RecordAttempt", ctx, mock.AnythingOfType("*domain.DeliveryAttempt")).Return(nil).Once()
		repo.On("UpdateChannelAfterAttempt", ctx, "6650f0a2e1b2c3d4e5f60718", domain.ChannelEmail,
			domain.StatusRetryDue, 1, mock.AnythingOfType("*time.Time"), mock.AnythingOfType("*string"), mock.AnythingOfType("time.Time")).Return(nil).Once()

		p.processJob(ctx, testJob(0), time.Now().UTC())

		repo.AssertExpectations(t)
	})
}

func TestProcessor_StartStop(t *testing.T) {
	repo := new(MockRepository)
	provider := &stubProvider{result: domain.ProviderResult{OK: true}}
	p := newTestProcessor(t, repo, provider)

	repo.On("ClaimDueChannel", mock.Anything, mock.AnythingOfType("time.Time")).Return(nil, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()), "second start is a no-op")

	time.Sleep(30 * time.Millisecond)
	p.Stop()
	p.Stop()

	repo.AssertCalled(t, "ClaimDueChannel", mock.Anything, mock.AnythingOfType("time.Time"))
}
