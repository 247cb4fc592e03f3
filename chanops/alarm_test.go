package chanops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

type recordedDelivery struct {
	UserID    string
	ChannelID string
	Message   string
}

func (r *recordingNotifier) NotifyAlarm(
	_ context.Context,
	userID string,
	channelID string,
	message string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(
		r.deliveries,
		recordedDelivery{
			UserID:    userID,
			ChannelID: channelID,
			Message:   message,
		},
	)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *recordingNotifier) delivery(i int) recordedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[i]
}

func TestNewAlarm(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1_700_000_000_000)

	alarm := NewAlarm(now, 10, "minutes", "walk the dog")
	assert.Equal(t, now.UnixMilli(), alarm.Started)
	assert.Equal(t, now.UnixMilli()+600_000, alarm.Date)
	assert.Equal(t, "walk the dog", alarm.Message)

	seconds := NewAlarm(now, 30, "seconds", "")
	assert.Equal(t, now.UnixMilli()+30_000, seconds.Date)
	assert.Equal(t, DefaultAlarmMessage, seconds.Message)

	days := NewAlarm(now, 2, "days", "x")
	assert.Equal(t, now.UnixMilli()+2*86_400_000, days.Date)

	// unrecognized units fall back to minutes
	unknown := NewAlarm(now, 5, "fortnights", "x")
	assert.Equal(t, now.UnixMilli()+300_000, unknown.Date)
}

func TestAlarmFireConsumesExactlyOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	notifier := &recordingNotifier{}
	scheduler := NewAlarmScheduler(store, notifier, newTestLogger(t))

	user := NewUserData()
	user.Alarms = []Alarm{
		{Message: "keep me", Date: 5000},
		{Message: "fire me", Date: 6000},
	}
	require.NoError(t, store.SaveUserData(ctx, "user-a", user))

	scheduler.fire("user-a", "channel-1", 6000, "fire me")

	saved, err := store.UserData(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, saved.Alarms, 1)
	assert.Equal(t, "keep me", saved.Alarms[0].Message)

	require.Equal(t, 1, notifier.count())
	assert.Equal(
		t,
		recordedDelivery{
			UserID:    "user-a",
			ChannelID: "channel-1",
			Message:   "fire me",
		},
		notifier.delivery(0),
	)
}

func TestAlarmFireAfterCancelIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	notifier := &recordingNotifier{}
	scheduler := NewAlarmScheduler(store, notifier, newTestLogger(t))

	user := NewUserData()
	require.NoError(t, store.SaveUserData(ctx, "user-a", user))

	// the alarm record is already gone, so the timer callback aborts
	scheduler.fire("user-a", "channel-1", 6000, "cancelled")
	assert.Equal(t, 0, notifier.count())

	// same for a user record that never existed
	scheduler.fire("user-b", "channel-1", 6000, "nobody home")
	assert.Equal(t, 0, notifier.count())
}

func TestAlarmSchedulePastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	notifier := &recordingNotifier{}
	scheduler := NewAlarmScheduler(store, notifier, newTestLogger(t))

	alarm := Alarm{Message: "overdue", Date: 1000}
	user := NewUserData()
	user.Alarms = []Alarm{alarm}
	require.NoError(t, store.SaveUserData(ctx, "user-a", user))

	scheduler.Schedule("user-a", "channel-1", alarm)

	require.Eventually(
		t, func() bool { return notifier.count() == 1 },
		time.Second, 10*time.Millisecond,
	)
	saved, err := store.UserData(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, saved.Alarms)
}

func TestAlarmScheduleFutureUsesTimer(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	notifier := &recordingNotifier{}
	scheduler := NewAlarmScheduler(store, notifier, newTestLogger(t))
	defer scheduler.Stop()

	alarm := Alarm{Message: "later", Date: time.Now().Add(time.Hour).UnixMilli()}
	scheduler.Schedule("user-a", "channel-1", alarm)

	scheduler.mu.Lock()
	pending := len(scheduler.timers)
	scheduler.mu.Unlock()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, notifier.count())

	scheduler.Stop()
	scheduler.mu.Lock()
	pending = len(scheduler.timers)
	scheduler.mu.Unlock()
	assert.Equal(t, 0, pending)
}

func TestAlarmRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()
	notifier := &recordingNotifier{}
	scheduler := NewAlarmScheduler(store, notifier, newTestLogger(t))
	defer scheduler.Stop()

	overdue := NewUserData()
	overdue.Alarms = []Alarm{{Message: "overdue", Date: 1000}}
	require.NoError(t, store.SaveUserData(ctx, "user-a", overdue))

	future := NewUserData()
	future.Alarms = []Alarm{
		{Message: "later", Date: time.Now().Add(time.Hour).UnixMilli()},
	}
	require.NoError(t, store.SaveUserData(ctx, "user-b", future))

	require.NoError(t, scheduler.Restore(ctx))

	require.Eventually(
		t, func() bool { return notifier.count() == 1 },
		time.Second, 10*time.Millisecond,
	)
	// restored alarms lose their origin channel reference
	assert.Equal(t, "", notifier.delivery(0).ChannelID)
	assert.Equal(t, "user-a", notifier.delivery(0).UserID)

	scheduler.mu.Lock()
	pending := len(scheduler.timers)
	scheduler.mu.Unlock()
	assert.Equal(t, 1, pending)
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()
	tests := []struct {
		remaining time.Duration
		want      string
	}{
		{90 * time.Second, "1 minute, 30 seconds"},
		{time.Second, "1 second"},
		{2 * time.Hour, "2 hours"},
		{
			25*time.Hour + 61*time.Second,
			"1 day, 1 hour, 1 minute, 1 second",
		},
		{0, ""},
		{-time.Minute, ""},
	}
	for _, tc := range tests {
		assert.Equal(
			t, tc.want, formatRemaining(tc.remaining), tc.remaining.String(),
		)
	}
}
