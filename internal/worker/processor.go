// Package worker runs the delivery loop: claim a due channel, dispatch
// to the provider, and write the outcome back as the next channel state.
// Multiple worker processes can run against the same database; the
// atomic claim keeps them from dispatching the same channel twice.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/domain"
)

// AttemptRecorder receives delivery outcome observations.
type AttemptRecorder interface {
	RecordAttempt(channel, outcome string)
	RecordChannelFailed(channel string)
}

// Processor drives notification delivery
type Processor struct {
	repo     domain.NotificationRepository
	provider domain.DeliveryProvider
	policy   RetryPolicy
	logger   *slog.Logger
	cfg      config.WorkerConfig
	recorder AttemptRecorder

	retryableCodes map[int]bool

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewProcessor creates a new Processor
func NewProcessor(
	repo domain.NotificationRepository,
	provider domain.DeliveryProvider,
	logger *slog.Logger,
	retryConfig config.RetryConfig,
	providerConfig config.ProviderConfig,
	workerConfig config.WorkerConfig,
) *Processor {
	codes := make(map[int]bool, len(providerConfig.RetryableStatusCodes))
	for _, c := range providerConfig.RetryableStatusCodes {
		codes[c] = true
	}

	return &Processor{
		repo:           repo,
		provider:       provider,
		policy:         NewRetryPolicy(retryConfig),
		logger:         logger,
		cfg:            workerConfig,
		retryableCodes: codes,
	}
}

// SetRecorder wires delivery metrics; a nil recorder disables them.
func (p *Processor) SetRecorder(recorder AttemptRecorder) {
	p.recorder = recorder
}

// Start starts the delivery loop
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancelFunc = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("processor started",
		"poll_interval", p.cfg.PollInterval,
		"max_attempts", p.policy.MaxAttempts(),
	)

	return nil
}

// Stop stops the delivery loop and waits for the in-flight attempt
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.cancelFunc != nil {
		p.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("processor stopped gracefully")
	case <-time.After(30 * time.Second):
		p.logger.Warn("processor stop timed out")
	}
}

// run claims and processes one due channel per iteration. An empty claim
// means nothing is due yet; the loop sleeps a poll interval before
// looking again.
func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	p.logger.Info("delivery loop started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delivery loop stopped")
			return
		default:
		}

		now := time.Now().UTC().Truncate(time.Millisecond)
		job, err := p.repo.ClaimDueChannel(ctx, now)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("failed to claim due channel", "error", err)
			p.sleep(ctx)
			continue
		}

		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.processJob(ctx, job, now)
	}
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

// processJob runs one delivery attempt for a claimed channel and writes
// the outcome: SENT on success, RETRY_DUE with a backoff when the
// failure is retryable and budget remains, FAILED otherwise.
func (p *Processor) processJob(ctx context.Context, job *domain.DeliveryJob, claimedAt time.Time) {
	attemptNo := job.AttemptCount + 1
	logger := p.logger.With(
		"notification_id", job.NotificationID,
		"channel", job.Channel,
		"attempt_no", attemptNo,
	)

	p.appendEvent(ctx, job.NotificationID, domain.Event{
		Type:      domain.EventClaimed,
		At:        claimedAt,
		Channel:   job.Channel,
		Priority:  job.Priority,
		AttemptNo: attemptNo,
	})

	result := p.provider.Send(ctx, job.Channel, job.Payload())

	now := time.Now().UTC().Truncate(time.Millisecond)

	attempt := &domain.DeliveryAttempt{
		NotificationID:     job.NotificationID,
		Channel:            job.Channel,
		AttemptNo:          attemptNo,
		Outcome:            domain.OutcomeSuccess,
		ProviderStatusCode: result.StatusCode,
		CreatedAt:          now,
	}
	if result.Response != nil {
		attempt.ProviderResponse = result.Response
	}
	if !result.OK {
		attempt.Outcome = domain.OutcomeFailure
		attempt.Error = &result.Error
	}
	if err := p.repo.RecordAttempt(ctx, attempt); err != nil {
		logger.Error("failed to record delivery attempt", "error", err)
	}
	if p.recorder != nil {
		p.recorder.RecordAttempt(string(job.Channel), string(attempt.Outcome))
	}

	if result.OK {
		if err := p.repo.UpdateChannelAfterAttempt(ctx, job.NotificationID, job.Channel, domain.StatusSent, attemptNo, nil, nil, now); err != nil {
			logger.Error("failed to mark channel sent", "error", err)
			return
		}
		p.appendEvent(ctx, job.NotificationID, domain.Event{
			Type:               domain.EventProviderSuccess,
			At:                 now,
			Channel:            job.Channel,
			AttemptNo:          attemptNo,
			ProviderStatusCode: result.StatusCode,
		})
		logger.Info("channel sent", "provider_status", statusOrZero(result.StatusCode))
		return
	}

	if p.retryable(result.StatusCode) && attemptNo < p.policy.MaxAttempts() {
		nextAt := p.policy.NextAttemptAt(now, attemptNo)
		if err := p.repo.UpdateChannelAfterAttempt(ctx, job.NotificationID, job.Channel, domain.StatusRetryDue, attemptNo, &nextAt, &result.Error, now); err != nil {
			logger.Error("failed to schedule retry", "error", err)
			return
		}
		p.appendEvent(ctx, job.NotificationID, domain.Event{
			Type:               domain.EventRetryScheduled,
			At:                 now,
			Channel:            job.Channel,
			AttemptNo:          attemptNo,
			ProviderStatusCode: result.StatusCode,
			NextAttemptAt:      &nextAt,
			Error:              result.Error,
		})
		logger.Warn("channel retry scheduled",
			"provider_status", statusOrZero(result.StatusCode),
			"next_attempt_at", nextAt,
			"error", result.Error,
		)
		return
	}

	if err := p.repo.UpdateChannelAfterAttempt(ctx, job.NotificationID, job.Channel, domain.StatusFailed, attemptNo, nil, &result.Error, now); err != nil {
		logger.Error("failed to mark channel failed", "error", err)
		return
	}
	if p.recorder != nil {
		p.recorder.RecordChannelFailed(string(job.Channel))
	}
	p.appendEvent(ctx, job.NotificationID, domain.Event{
		Type:               domain.EventFinalFailure,
		At:                 now,
		Channel:            job.Channel,
		AttemptNo:          attemptNo,
		ProviderStatusCode: result.StatusCode,
		Error:              result.Error,
	})
	logger.Error("channel failed permanently",
		"provider_status", statusOrZero(result.StatusCode),
		"error", result.Error,
	)
}

// retryable classifies a provider failure. No status code means the
// provider was never reached (timeout, connection error), which is
// always retryable; otherwise the configured status code set decides.
func (p *Processor) retryable(statusCode *int) bool {
	if statusCode == nil {
		return true
	}
	return p.retryableCodes[*statusCode]
}

func (p *Processor) appendEvent(ctx context.Context, id string, ev domain.Event) {
	if err := p.repo.AppendEvent(ctx, id, ev); err != nil {
		p.logger.Warn("failed to append event",
			"notification_id", id,
			"event", ev.Type,
			"error", err,
		)
	}
}

func statusOrZero(code *int) int {
	if code == nil {
		return 0
	}
	return *code
}
