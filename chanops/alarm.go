package chanops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// alarmUnits maps the /alarms add `units` option to a duration.
var alarmUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// DefaultAlarmUnit is used when the `units` option is omitted.
const DefaultAlarmUnit = "minutes"

// NewAlarm creates an alarm firing `duration` units from now.
func NewAlarm(now time.Time, duration int, unit string, message string) Alarm {
	unitDuration, ok := alarmUnits[unit]
	if !ok {
		unitDuration = alarmUnits[DefaultAlarmUnit]
	}
	if message == "" {
		message = DefaultAlarmMessage
	}
	started := now.UnixMilli()
	return Alarm{
		Message: message,
		Started: started,
		Date:    started + (time.Duration(duration) * unitDuration).Milliseconds(),
	}
}

// AlarmNotifier delivers a fired alarm to its owner. Implemented by
// [Discord.NotifyAlarm]; tests substitute a recorder.
type AlarmNotifier interface {
	NotifyAlarm(
		ctx context.Context,
		userID string,
		channelID string,
		message string,
	) error
}

// AlarmScheduler arranges one deferred delivery per pending alarm.
//
// Each schedule call captures (user ID, fire time, origin channel,
// message) by value and arms a one-shot timer. The fire callback
// re-reads the user's current record before acting, so a cancellation
// that landed in the meantime turns the fire into a no-op. That
// re-check is the only cancellation mechanism: there's no token and no
// lock, and a cancel racing a fire in the same instant can see stale
// state on both sides. Alarms carry no identity beyond their owner and
// fire timestamp.
//
// Timers live only in process memory; Restore rebuilds them from
// persisted records after a restart.
type AlarmScheduler struct {
	store    DataStore
	notifier AlarmNotifier
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}

	// now is swappable for tests
	now func() time.Time
}

func NewAlarmScheduler(
	store DataStore,
	notifier AlarmNotifier,
	log *slog.Logger,
) *AlarmScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &AlarmScheduler{
		store:    store,
		notifier: notifier,
		logger:   log.With(loggerNameKey, "alarm_scheduler"),
		timers:   map[*time.Timer]struct{}{},
		now:      time.Now,
	}
}

// Schedule arms exactly one deferred delivery for the given alarm. The
// alarm record must already be persisted on the user. Past-due fire
// times fire immediately.
func (s *AlarmScheduler) Schedule(userID string, channelID string, alarm Alarm) {
	delay := time.UnixMilli(alarm.Date).Sub(s.now())
	if delay <= 0 {
		go s.fire(userID, channelID, alarm.Date, alarm.Message)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(
		delay, func() {
			s.mu.Lock()
			delete(s.timers, timer)
			s.mu.Unlock()
			s.fire(userID, channelID, alarm.Date, alarm.Message)
		},
	)
	s.timers[timer] = struct{}{}
}

// fire consumes the alarm: re-read the owner's record, drop the first
// alarm matching the captured fire time, persist, then deliver the
// notification. A missing user record or missing alarm means it was
// cancelled - abort silently. Delivery failure is swallowed; the alarm
// is consumed either way.
func (s *AlarmScheduler) fire(
	userID string,
	channelID string,
	fireAt int64,
	message string,
) {
	ctx := context.Background()
	logger := s.logger.With("user_id", userID, "fire_at", fireAt)

	user, err := s.store.UserData(ctx, userID)
	if err != nil {
		logger.Error("error reading user record for alarm", tint.Err(err))
		return
	}
	if user == nil {
		return
	}
	if !user.RemoveAlarmAt(fireAt) {
		// already cancelled
		return
	}
	if err = s.store.SaveUserData(ctx, userID, user); err != nil {
		logger.Error("error saving user record on alarm fire", tint.Err(err))
		return
	}

	if s.notifier == nil {
		return
	}
	if err = s.notifier.NotifyAlarm(ctx, userID, channelID, message); err != nil {
		logger.Warn("unable to deliver alarm", tint.Err(err))
	}
}

// Restore rescans persisted user records and re-arms a timer for every
// pending alarm, firing past-due alarms immediately. Called once at
// startup: in-process timers don't survive a restart, but the alarm
// records do.
//
// The origin channel ID isn't part of the persisted record, so
// restored alarms are delivered without a channel reference.
func (s *AlarmScheduler) Restore(ctx context.Context) error {
	var restored int
	err := s.store.EachUser(
		ctx, func(userID string, u *UserData) error {
			for _, alarm := range u.Alarms {
				s.Schedule(userID, "", alarm)
				restored++
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("error restoring alarms: %w", err)
	}
	if restored > 0 {
		s.logger.InfoContext(ctx, "restored alarms", "count", restored)
	}
	return nil
}

// Stop disarms every pending timer. Persisted alarm records are left
// alone, to be restored on the next startup.
func (s *AlarmScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
}

// formatRemaining renders the time left until a fire date as
// "N days, N hours, N minutes, N seconds", omitting zero units and
// flooring each unit. Elapsed fire times render as an empty string.
func formatRemaining(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	ms := remaining.Milliseconds()

	days := ms / 86400000
	ms -= days * 86400000
	hours := ms / 3600000
	ms -= hours * 3600000
	minutes := ms / 60000
	ms -= minutes * 60000
	seconds := ms / 1000

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, pluralize(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, pluralize(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, pluralize(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, pluralize(seconds, "second"))
	}
	return strings.Join(parts, ", ")
}
