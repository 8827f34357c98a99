package angel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const (
	columnReminderChannelID = "channel_id"
	columnReminderCreatorID = "creator_id"
	columnReminderFireAt    = "fire_at"

	reminderMaxMessageLength = 1500
	reminderMinInterval      = time.Minute

	// reminderDueBatchSize caps how many rows one tick picks up. Anything
	// left over is still due on the next tick.
	reminderDueBatchSize = 100
)

// MentionType is who gets pinged when a reminder fires
type MentionType string

const (
	MentionNone     MentionType = "none"
	MentionUser     MentionType = "user"
	MentionRole     MentionType = "role"
	MentionEveryone MentionType = "everyone"
)

// Reminder is a message to post to a channel at FireAt, and then every
// Interval after that when Interval is non-zero.
type Reminder struct {
	ModelUintID
	ChannelID string `gorm:"index;not null" json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	CreatorID string `gorm:"index;not null" json:"creator_id"`
	Message   string `gorm:"not null" json:"message"`

	// FireAt is the next scheduled delivery, in unix milliseconds (UTC)
	FireAt int64 `gorm:"index;not null" json:"fire_at"`

	Interval Duration `json:"interval"`

	Mention   MentionType `gorm:"default:none" json:"mention"`
	MentionID string      `json:"mention_id,omitempty"`

	// TimePattern is what the creator typed for the time, ex: "daily at 9am est"
	TimePattern string `json:"time_pattern,omitempty"`

	ModelUnixTime
}

func (r Reminder) FireTime() time.Time {
	return time.UnixMilli(r.FireAt).UTC()
}

func (r Reminder) Recurring() bool {
	return r.Interval.Duration > 0
}

// NextFireTime returns the first occurrence on this reminder's schedule
// strictly after now. Occurrences missed while the bot was down are
// skipped rather than delivered in a burst.
func (r Reminder) NextFireTime(now time.Time) time.Time {
	fireAt := r.FireTime()
	interval := r.Interval.Duration
	if interval <= 0 {
		return fireAt
	}
	next := fireAt.Add(interval)
	if !next.After(now) {
		missed := now.Sub(next)/interval + 1
		next = next.Add(missed * interval)
	}
	return next
}

// MentionText is the ping prepended to the delivered message
func (r Reminder) MentionText() string {
	switch r.Mention {
	case MentionEveryone:
		return "@everyone"
	case MentionUser:
		return fmt.Sprintf("<@%s>", r.MentionID)
	case MentionRole:
		return fmt.Sprintf("<@&%s>", r.MentionID)
	default:
		return ""
	}
}

func (r Reminder) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(r.ID)),
		slog.String("channel_id", r.ChannelID),
		slog.String("creator_id", r.CreatorID),
		slog.Time("fire_at", r.FireTime()),
		slog.Duration("interval", r.Interval.Duration),
	)
}

// ReminderDelivery records one delivery attempt
type ReminderDelivery struct {
	ModelUintID
	ReminderID  uint   `gorm:"index;not null" json:"reminder_id"`
	ChannelID   string `json:"channel_id"`
	FireAt      int64  `json:"fire_at"`
	DeliveredAt int64  `gorm:"autoCreateTime:milli" json:"delivered_at"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
}

const (
	deliveryOutcomeRescheduled = "rescheduled"
	deliveryOutcomeCompleted   = "completed"
	deliveryOutcomeFailed      = "failed"
)

// ReminderFilter narrows [ReminderStore.List]. Empty fields match
// everything, and Limit <= 0 means no limit.
type ReminderFilter struct {
	ChannelID string `form:"channel_id" json:"channel_id"`
	CreatorID string `form:"creator_id" json:"creator_id"`
	Limit     int    `form:"limit" json:"limit" binding:"min=0,max=500"`
}

// ReminderStore owns the reminder table. Every call is scoped to its
// own statement or transaction.
type ReminderStore struct {
	db      *gorm.DB
	writeDB DBI
	logger  *slog.Logger
}

func NewReminderStore(writeDB DBI, logger *slog.Logger) *ReminderStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderStore{
		db:      writeDB.DB(),
		writeDB: writeDB,
		logger:  logger,
	}
}

func (s *ReminderStore) validate(r *Reminder) error {
	r.Message = strings.TrimSpace(r.Message)
	switch {
	case r.Message == "":
		return newValidationError(ErrEmptyReminderMessage, "Please provide a reminder message.")
	case utf8.RuneCountInString(r.Message) > reminderMaxMessageLength:
		return newValidationError(
			ErrReminderMessageLong,
			"Reminder messages can be at most %d characters.",
			reminderMaxMessageLength,
		)
	case r.ChannelID == "":
		return newValidationError(ErrMissingChannel, "A channel is required.")
	case r.CreatorID == "":
		return newValidationError(ErrMissingCreator, "A creator is required.")
	case r.FireAt <= 0:
		return newValidationError(ErrInvalidReminderTime, "A reminder time is required.")
	case r.Interval.Duration < 0, r.Interval.Duration > 0 && r.Interval.Duration < reminderMinInterval:
		return newValidationError(ErrInvalidInterval, "Reminders can repeat at most once a minute.")
	}

	if r.Mention == "" {
		r.Mention = MentionNone
	}
	switch r.Mention {
	case MentionNone, MentionEveryone:
		if r.MentionID != "" {
			return newValidationError(ErrInvalidMention, "Unexpected mention ID for %q.", r.Mention)
		}
	case MentionUser, MentionRole:
		if r.MentionID == "" {
			return newValidationError(ErrInvalidMention, "A %s mention needs an ID.", r.Mention)
		}
	default:
		return newValidationError(ErrInvalidMention, "Unknown mention type %q.", r.Mention)
	}
	return nil
}

// Create validates and inserts r, returning its new ID
func (s *ReminderStore) Create(ctx context.Context, r *Reminder) (uint, error) {
	if err := s.validate(r); err != nil {
		return 0, err
	}
	if _, err := s.writeDB.Create(ctx, r); err != nil {
		return 0, fmt.Errorf("error creating reminder: %w", err)
	}
	contextLoggerOr(ctx, s.logger).InfoContext(ctx, "reminder created", reminderLogAttrs(*r)...)
	return r.ID, nil
}

func (s *ReminderStore) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

// List returns reminders matching filter, soonest first
func (s *ReminderStore) List(ctx context.Context, filter ReminderFilter) ([]Reminder, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	q := s.filtered(ctx, filter)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var reminders []Reminder
	if err := q.Order(columnReminderFireAt + " asc, id asc").Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("error listing reminders: %w", err)
	}
	return reminders, nil
}

// Count returns how many reminders match filter, ignoring its Limit
func (s *ReminderStore) Count(ctx context.Context, filter ReminderFilter) (int64, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var n int64
	err := s.filtered(ctx, filter).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting reminders: %w", err)
	}
	return n, nil
}

func (s *ReminderStore) filtered(ctx context.Context, filter ReminderFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&Reminder{})
	if filter.ChannelID != "" {
		q = q.Where(columnReminderChannelID+" = ?", filter.ChannelID)
	}
	if filter.CreatorID != "" {
		q = q.Where(columnReminderCreatorID+" = ?", filter.CreatorID)
	}
	return q
}

func (s *ReminderStore) Get(ctx context.Context, id uint) (Reminder, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var r Reminder
	err := s.db.WithContext(ctx).Take(&r, id).Error
	if isRecordNotFound(err) {
		return r, ErrReminderNotFound
	}
	return r, err
}

// Delete removes a reminder. When creatorID is set, only that user's
// reminder matches. Returns ErrReminderNotFound when nothing was deleted.
func (s *ReminderStore) Delete(ctx context.Context, id uint, creatorID string) error {
	conds := []any{"id = ?", id}
	if creatorID != "" {
		conds = []any{"id = ? AND " + columnReminderCreatorID + " = ?", id, creatorID}
	}
	rows, err := s.writeDB.Delete(ctx, &Reminder{}, conds...)
	if err != nil {
		return fmt.Errorf("error deleting reminder %d: %w", id, err)
	}
	if rows == 0 {
		return ErrReminderNotFound
	}
	contextLoggerOr(ctx, s.logger).InfoContext(
		ctx,
		"reminder deleted",
		"reminder_id", id,
		"creator_id", creatorID,
	)
	return nil
}

// Due returns reminders whose fire time is at or before now, oldest
// first, up to reminderDueBatchSize rows.
func (s *ReminderStore) Due(ctx context.Context, now time.Time) ([]Reminder, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var reminders []Reminder
	err := s.db.WithContext(ctx).
		Where(columnReminderFireAt+" <= ?", now.UnixMilli()).
		Order(columnReminderFireAt + " asc, id asc").
		Limit(reminderDueBatchSize).
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("error querying due reminders: %w", err)
	}
	return reminders, nil
}

// Advance moves a delivered recurring reminder to next. The update only
// applies while the row still has the fire time r was read with, so an
// occurrence can't be advanced twice.
func (s *ReminderStore) Advance(ctx context.Context, r Reminder, next time.Time) error {
	return s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Model(&Reminder{}).
				Where("id = ? AND "+columnReminderFireAt+" = ?", r.ID, r.FireAt).
				Update(columnReminderFireAt, next.UnixMilli())
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				return ErrReminderNotFound
			}
			return tx.Create(
				&ReminderDelivery{
					ReminderID: r.ID,
					ChannelID:  r.ChannelID,
					FireAt:     r.FireAt,
					Outcome:    deliveryOutcomeRescheduled,
				},
			).Error
		},
	)
}

// Complete removes a reminder after its final delivery attempt.
// deliveryErr is recorded when the attempt failed.
func (s *ReminderStore) Complete(ctx context.Context, r Reminder, deliveryErr error) error {
	delivery := &ReminderDelivery{
		ReminderID: r.ID,
		ChannelID:  r.ChannelID,
		FireAt:     r.FireAt,
		Outcome:    deliveryOutcomeCompleted,
	}
	if deliveryErr != nil {
		delivery.Outcome = deliveryOutcomeFailed
		delivery.Error = truncate(deliveryErr.Error(), 500)
	}

	return s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Where("id = ? AND "+columnReminderFireAt+" = ?", r.ID, r.FireAt).
				Delete(&Reminder{})
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				return ErrReminderNotFound
			}
			return tx.Create(delivery).Error
		},
	)
}

// Deliveries returns the delivery log for one reminder, oldest first
func (s *ReminderStore) Deliveries(ctx context.Context, reminderID uint) ([]ReminderDelivery, error) {
	ctx, cancel := s.readContext(ctx)
	defer cancel()

	var deliveries []ReminderDelivery
	err := s.db.WithContext(ctx).
		Where("reminder_id = ?", reminderID).
		Order("id asc").
		Find(&deliveries).Error
	return deliveries, err
}
