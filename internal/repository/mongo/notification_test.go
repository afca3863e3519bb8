package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-one/notification-dispatch/internal/domain"
)

func channelState(ch domain.Channel, status domain.DeliveryStatus, next *time.Time, updated time.Time) domain.ChannelState {
	return domain.ChannelState{
		Channel:       ch,
		Status:        status,
		NextAttemptAt: next,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
}

func TestDueChannel(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	t.Run("picks first due claimable channel", func(t *testing.T) {
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusSent, nil, past),
			channelState(domain.ChannelSMS, domain.StatusRetryDue, &past, past),
			channelState(domain.ChannelPush, domain.StatusQueued, &past, past),
		}

		claimed := dueChannel(channels, now)
		require.NotNil(t, claimed)
		assert.Equal(t, domain.ChannelSMS, claimed.Channel)
	})

	t.Run("ignores sibling claimed in the same millisecond", func(t *testing.T) {
		// Another worker flipped EMAIL to SENDING with the same
		// timestamp this claim stamped on PUSH. The pre-image predicate
		// must still name PUSH, not the sibling.
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusSending, &past, now),
			channelState(domain.ChannelPush, domain.StatusQueued, &past, past),
		}

		claimed := dueChannel(channels, now)
		require.NotNil(t, claimed)
		assert.Equal(t, domain.ChannelPush, claimed.Channel)
	})

	t.Run("skips channels not yet due", func(t *testing.T) {
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusRetryDue, &future, past),
			channelState(domain.ChannelSMS, domain.StatusQueued, &past, past),
		}

		claimed := dueChannel(channels, now)
		require.NotNil(t, claimed)
		assert.Equal(t, domain.ChannelSMS, claimed.Channel)
	})

	t.Run("due at exactly now is claimable", func(t *testing.T) {
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusQueued, &now, past),
		}

		claimed := dueChannel(channels, now)
		require.NotNil(t, claimed)
		assert.Equal(t, domain.ChannelEmail, claimed.Channel)
	})

	t.Run("skips terminal and in-flight statuses", func(t *testing.T) {
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusSending, &past, past),
			channelState(domain.ChannelSMS, domain.StatusFailed, &past, past),
			channelState(domain.ChannelPush, domain.StatusDelivered, &past, past),
		}

		assert.Nil(t, dueChannel(channels, now))
	})

	t.Run("nil next_attempt_at is never due", func(t *testing.T) {
		channels := []domain.ChannelState{
			channelState(domain.ChannelEmail, domain.StatusQueued, nil, past),
		}

		assert.Nil(t, dueChannel(channels, now))
	})
}
