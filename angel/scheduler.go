package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

// SchedulerState is where the reminder scheduler is in its tick cycle
type SchedulerState int32

const (
	SchedulerIdle SchedulerState = iota
	SchedulerScanning
	SchedulerDelivering
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerScanning:
		return "scanning"
	case SchedulerDelivering:
		return "delivering"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int32(s))
	}
}

// ReminderSender delivers a due reminder to its channel
type ReminderSender interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// TickResult summarises one scheduler tick
type TickResult struct {
	Due         int `json:"due"`
	Delivered   int `json:"delivered"`
	Rescheduled int `json:"rescheduled"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// ReminderScheduler periodically delivers due reminders. It holds no
// reminder state between ticks, everything is re-read from the store.
type ReminderScheduler struct {
	store    *ReminderStore
	sender   ReminderSender
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// tickMu serialises scheduled ticks with ticks triggered via the API
	tickMu   sync.Mutex
	state    atomic.Int32
	lastTick atomic.Int64
	cron     *cron.Cron
}

func NewReminderScheduler(
	store *ReminderStore,
	sender ReminderSender,
	config *SchedulerConfig,
	logger *slog.Logger,
) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		store:    store,
		sender:   sender,
		interval: config.TickInterval,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ReminderScheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

// LastTick returns when the last tick finished, or the zero time
func (s *ReminderScheduler) LastTick() time.Time {
	ms := s.lastTick.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Start schedules a tick every interval until Stop is called. Ticks
// that would overlap a still-running tick are skipped.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	// cron rounds anything shorter up to a second without complaint
	if s.interval < time.Second {
		return fmt.Errorf("invalid tick interval %s", s.interval)
	}
	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := s.cron.AddFunc(
		fmt.Sprintf("@every %s", s.interval),
		func() {
			if _, tickErr := s.Tick(ctx, s.now()); tickErr != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "reminder tick failed", tint.Err(tickErr))
			}
		},
	)
	if err != nil {
		return fmt.Errorf("error scheduling reminder ticks: %w", err)
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "reminder scheduler started", "interval", s.interval)
	return nil
}

// Stop halts scheduling. The returned context is done once any running
// tick has finished.
func (s *ReminderScheduler) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Tick delivers every reminder due at now. Recurring reminders are
// advanced along their original schedule, one-shot reminders are
// removed, and reminders that fail to deliver are removed too.
func (s *ReminderScheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var result TickResult
	s.state.Store(int32(SchedulerScanning))
	defer s.state.Store(int32(SchedulerIdle))

	due, err := s.store.Due(ctx, now)
	if err != nil {
		return result, err
	}
	result.Due = len(due)

	if len(due) > 0 {
		s.state.Store(int32(SchedulerDelivering))
		for _, r := range due {
			if ctx.Err() != nil {
				break
			}
			s.deliver(ctx, r, now, &result)
		}
		s.logger.InfoContext(
			ctx,
			"reminder tick finished",
			"due", result.Due,
			"delivered", result.Delivered,
			"rescheduled", result.Rescheduled,
			"failed", result.Failed,
		)
	}
	s.lastTick.Store(now.UnixMilli())
	return result, ctx.Err()
}

func (s *ReminderScheduler) deliver(ctx context.Context, r Reminder, now time.Time, result *TickResult) {
	logger := s.logger.With(reminderLogAttrs(r)...)

	sendErr := s.sender.SendReminder(ctx, r)
	if sendErr != nil && ctx.Err() != nil {
		// shutting down, leave it due for the next run
		logger.WarnContext(ctx, "reminder delivery interrupted", tint.Err(sendErr))
		return
	}

	var storeErr error
	switch {
	case sendErr != nil:
		result.Failed++
		logger.WarnContext(ctx, "reminder delivery failed, removing", tint.Err(sendErr))
		storeErr = s.store.Complete(ctx, r, sendErr)
	case r.Recurring():
		result.Delivered++
		next := r.NextFireTime(now)
		if skipped := int(next.Sub(r.FireTime())/r.Interval.Duration) - 1; skipped > 0 {
			logger.InfoContext(ctx, "skipped missed occurrences", "skipped", skipped)
		}
		storeErr = s.store.Advance(ctx, r, next)
		if storeErr == nil {
			result.Rescheduled++
			logger.DebugContext(ctx, "reminder rescheduled", "next", next)
		}
	default:
		result.Delivered++
		storeErr = s.store.Complete(ctx, r, nil)
		if storeErr == nil {
			result.Completed++
		}
	}

	switch {
	case errors.Is(storeErr, ErrReminderNotFound):
		logger.InfoContext(ctx, "reminder changed during delivery")
	case storeErr != nil:
		logger.ErrorContext(ctx, "error updating delivered reminder", tint.Err(storeErr))
	}
}
