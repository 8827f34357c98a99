package angel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	colorSuccess  = 0x00ff7f
	colorNotFound = 0xff6b6b
	colorInfo     = 0x3498db

	reminderListPreviewLength = 60
)

// reminderFromOptions builds an unsaved reminder from the /reminder
// options. The channel defaults to where the command was used.
func reminderFromOptions(i *discordgo.InteractionCreate, creatorID string) (*Reminder, string, error) {
	opts := discordInteractionOptions(i)
	r := &Reminder{
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		CreatorID: creatorID,
		Mention:   MentionNone,
	}
	var timeInput string
	if opt, ok := opts[optionTime]; ok {
		timeInput = opt.StringValue()
	}
	if opt, ok := opts[optionMessage]; ok {
		r.Message = opt.StringValue()
	}
	if opt, ok := opts[optionChannel]; ok {
		r.ChannelID = opt.ChannelValue(nil).ID
	}

	mentions := 0
	if opt, ok := opts[optionMentionUser]; ok {
		r.Mention, r.MentionID = MentionUser, opt.UserValue(nil).ID
		mentions++
	}
	if opt, ok := opts[optionMentionRole]; ok {
		r.Mention, r.MentionID = MentionRole, opt.RoleValue(nil, i.GuildID).ID
		mentions++
	}
	if opt, ok := opts[optionEveryone]; ok && opt.BoolValue() {
		r.Mention, r.MentionID = MentionEveryone, ""
		mentions++
	}
	if mentions > 1 {
		return nil, timeInput, newValidationError(
			ErrInvalidMention,
			"Pick only one of `%s`, `%s` or `%s`.",
			optionMentionUser, optionMentionRole, optionEveryone,
		)
	}
	return r, timeInput, nil
}

func (b *Bot) commandReminder(ctx context.Context, h InteractionHandler, u *User) {
	logger := contextLoggerOr(ctx, b.logger)
	i := h.GetInteraction()
	now := b.now()

	r, timeInput, err := reminderFromOptions(i, u.ID)
	if err == nil {
		var schedule ReminderSchedule
		schedule, err = ParseReminderTime(timeInput, now)
		if err == nil {
			r.FireAt = schedule.FireAt.UnixMilli()
			r.Interval = Duration{Duration: schedule.Interval}
			r.TimePattern = schedule.Pattern
			_, err = b.reminders.Create(ctx, r)
		}
	}
	if err != nil {
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			logger.ErrorContext(ctx, "error creating reminder", tint.Err(err))
		}
		_ = h.Respond(ctx, ephemeralResponse(userErrorMessage(err, b.config.Discord.ErrorMessage)))
		return
	}

	_ = h.Respond(ctx, ephemeralResponse("", reminderCreatedEmbed(*r, now)))
}

func reminderCreatedEmbed(r Reminder, now time.Time) *discordgo.MessageEmbed {
	interval := r.Interval.Duration
	title := "✅ Reminder Set Successfully!"
	switch {
	case interval == day:
		title = "✅ Daily Reminder Set!"
	case interval == week:
		title = "✅ Weekly Reminder Set!"
	case interval > 0:
		title = fmt.Sprintf("✅ Recurring Reminder Set (%s)!", describeInterval(interval))
	}

	fireAt := r.FireTime()
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("I'll remind you about: **%s**", r.Message),
		Color:       colorSuccess,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "⏰ Scheduled For", Value: discordTimestamp(fireAt, "F"), Inline: true},
			{Name: "⏳ Time Until", Value: FormatTimeUntil(fireAt.Sub(now)), Inline: true},
			{Name: "📍 Reminder ID", Value: fmt.Sprintf("#%d", r.ID), Inline: true},
			{Name: "📺 Channel", Value: fmt.Sprintf("<#%s>", r.ChannelID), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "💡 Use /listreminder to view active reminders"},
	}
	if r.Recurring() {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "🔁 Recurrence", Value: describeInterval(interval), Inline: true},
		)
	}
	if mention := r.MentionText(); mention != "" {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: "🔔 Pings", Value: mention, Inline: true},
		)
	}
	return embed
}

// discordTimestamp renders t with discord's timestamp markup, which each
// reader sees in their own timezone
func discordTimestamp(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func (b *Bot) commandDeleteReminder(ctx context.Context, h InteractionHandler, u *User) {
	logger := contextLoggerOr(ctx, b.logger)
	opts := discordInteractionOptions(h.GetInteraction())

	var id int64
	if opt, ok := opts[optionReminderID]; ok {
		id = opt.IntValue()
	}

	var err error
	if id <= 0 {
		err = ErrReminderNotFound
	} else {
		err = b.reminders.Delete(ctx, uint(id), u.ID)
	}

	switch {
	case err == nil:
		_ = h.Respond(
			ctx, ephemeralResponse(
				"", &discordgo.MessageEmbed{
					Title:       "✅ Reminder Deleted",
					Description: fmt.Sprintf("Reminder #%d has been deleted.", id),
					Color:       colorSuccess,
				},
			),
		)
	case errors.Is(err, ErrReminderNotFound):
		_ = h.Respond(
			ctx, ephemeralResponse(
				"", &discordgo.MessageEmbed{
					Title: "❌ Reminder Not Found",
					Description: fmt.Sprintf(
						"Reminder #%d doesn't exist, or it isn't yours to delete.\n"+
							"Use `/listreminder` to see reminder IDs.",
						id,
					),
					Color: colorNotFound,
				},
			),
		)
	default:
		logger.ErrorContext(ctx, "error deleting reminder", tint.Err(err), "reminder_id", id)
		_ = h.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
	}
}

func (b *Bot) commandListReminder(ctx context.Context, h InteractionHandler, u *User) {
	logger := contextLoggerOr(ctx, b.logger)
	i := h.GetInteraction()
	opts := discordInteractionOptions(i)

	filter := ReminderFilter{ChannelID: i.ChannelID, Limit: DefaultReminderListLimit}
	title := "📝 Active Reminders in this Channel"
	if opt, ok := opts[optionMine]; ok && opt.BoolValue() {
		filter = ReminderFilter{CreatorID: u.ID, Limit: DefaultReminderListLimit}
		title = "📝 Your Active Reminders"
	}

	reminders, err := b.reminders.List(ctx, filter)
	if err != nil {
		logger.ErrorContext(ctx, "error listing reminders", tint.Err(err))
		_ = h.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
		return
	}
	total := int64(len(reminders))
	if len(reminders) == filter.Limit {
		if total, err = b.reminders.Count(ctx, filter); err != nil {
			logger.ErrorContext(ctx, "error counting reminders", tint.Err(err))
			total = int64(len(reminders))
		}
	}

	_ = h.Respond(ctx, ephemeralResponse("", reminderListEmbed(title, reminders, total, b.now())))
}

func reminderListEmbed(title string, reminders []Reminder, total int64, now time.Time) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: colorInfo,
	}
	if len(reminders) == 0 {
		embed.Description = "There are no active reminders.\n\nUse `/reminder` to create one!"
		return embed
	}

	embed.Title = fmt.Sprintf("%s (%d)", title, total)
	for _, r := range reminders {
		name := fmt.Sprintf("⏰ Reminder #%d", r.ID)
		if r.Recurring() {
			name = fmt.Sprintf("⏰ 🔁 Reminder #%d", r.ID)
		}
		value := fmt.Sprintf(
			"**Message:** %s\n**By:** <@%s>\n**Time:** %s\n**Channel:** <#%s>\n**In:** %s",
			shortenString(r.Message, reminderListPreviewLength),
			r.CreatorID,
			discordTimestamp(r.FireTime(), "F"),
			r.ChannelID,
			FormatTimeUntil(r.FireTime().Sub(now)),
		)
		if r.Recurring() {
			value += "\n**Repeats:** " + describeInterval(r.Interval.Duration)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value})
	}

	footer := "💡 Use /delete_reminder <ID> to remove a reminder"
	if total > int64(len(reminders)) {
		footer = fmt.Sprintf(
			"Showing %d of %d reminders. Use /delete_reminder to remove specific ones.",
			len(reminders),
			total,
		)
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	return embed
}
