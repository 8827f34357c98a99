package angel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	channelHistoryPageSize = 100

	// serverStatsScanLimit caps the main channel scan behind /serverstats
	serverStatsScanLimit = 1000

	// mostActiveScanLimit caps the month scan behind /mostactive
	mostActiveScanLimit = 10000
)

// GuildStats is a snapshot of a guild, built from REST calls since the
// session doesn't keep a state cache.
type GuildStats struct {
	ID            string
	Name          string
	IconURL       string
	CreatedAt     time.Time
	Members       int
	Online        int
	TextChannels  int
	VoiceChannels int
	Categories    int
	Roles         int
	ContentFilter discordgo.ExplicitContentFilterLevel
	BoostTier     discordgo.PremiumTier
	Boosts        int

	// MainChannel and TopChatter are empty when the configured main
	// channel doesn't exist or had no human messages
	MainChannel string
	TopChatter  *ChatterCount
}

// ChatterCount is one user's message count in a channel scan
type ChatterCount struct {
	UserID   string
	Name     string
	Messages int
}

// ChannelActivity is the result of scanning a channel's history
type ChannelActivity struct {
	// Scanned counts every message in range, bots included
	Scanned int

	// Chatters is ordered by message count, busiest first. Bots are
	// excluded.
	Chatters []ChatterCount

	// Days maps a UTC date (YYYY-MM-DD) to its human message count
	Days map[string]int
}

// BusiestDay returns the date with the most messages. Ties go to the
// earlier date.
func (a ChannelActivity) BusiestDay() (string, int) {
	var day string
	var count int
	for d, n := range a.Days {
		if n > count || (n == count && d < day) {
			day, count = d, n
		}
	}
	return day, count
}

// GuildStats fetches the guild, its channels and roles. When
// [DiscordConfig.MainChannelName] names a text channel, its recent history
// is scanned for the most active user. A failed scan is logged and
// otherwise ignored.
func (d *Discord) GuildStats(ctx context.Context, guildID string) (GuildStats, error) {
	opt := discordgo.WithContext(ctx)

	guild, err := d.session.GuildWithCounts(guildID, opt)
	if err != nil {
		return GuildStats{}, fmt.Errorf("error fetching guild %s: %w", guildID, err)
	}
	channels, err := d.session.GuildChannels(guildID, opt)
	if err != nil {
		return GuildStats{}, fmt.Errorf("error fetching channels for guild %s: %w", guildID, err)
	}
	roles, err := d.session.GuildRoles(guildID, opt)
	if err != nil {
		return GuildStats{}, fmt.Errorf("error fetching roles for guild %s: %w", guildID, err)
	}

	stats := GuildStats{
		ID:            guild.ID,
		Name:          guild.Name,
		Members:       guild.ApproximateMemberCount,
		Online:        guild.ApproximatePresenceCount,
		Roles:         len(roles),
		ContentFilter: guild.ExplicitContentFilter,
		BoostTier:     guild.PremiumTier,
		Boosts:        guild.PremiumSubscriptionCount,
	}
	if stats.Members == 0 {
		stats.Members = guild.MemberCount
	}
	if guild.Icon != "" {
		stats.IconURL = discordgo.EndpointGuildIcon(guild.ID, guild.Icon)
	}
	if created, err := discordgo.SnowflakeTimestamp(guild.ID); err == nil {
		stats.CreatedAt = created.UTC()
	}

	var mainChannel *discordgo.Channel
	for _, c := range channels {
		switch c.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
			stats.TextChannels++
			if d.config.MainChannelName != "" && c.Name == d.config.MainChannelName && mainChannel == nil {
				mainChannel = c
			}
		case discordgo.ChannelTypeGuildVoice:
			stats.VoiceChannels++
		case discordgo.ChannelTypeGuildCategory:
			stats.Categories++
		}
	}

	if mainChannel == nil {
		if d.config.MainChannelName != "" {
			d.logger.WarnContext(ctx, "main channel not found", "guild_id", guildID, "name", d.config.MainChannelName)
		}
		return stats, nil
	}
	activity, err := d.ChannelActivity(ctx, mainChannel.ID, time.Time{}, serverStatsScanLimit)
	if err != nil {
		d.logger.ErrorContext(ctx, "error scanning main channel", "channel_id", mainChannel.ID, tint.Err(err))
		return stats, nil
	}
	d.logger.InfoContext(
		ctx, "scanned main channel",
		"channel_id", mainChannel.ID,
		"messages", activity.Scanned,
		"chatters", len(activity.Chatters),
	)
	stats.MainChannel = mainChannel.ID
	if len(activity.Chatters) > 0 {
		top := activity.Chatters[0]
		stats.TopChatter = &top
	}
	return stats, nil
}

// ChannelActivity pages back through a channel's history, newest first,
// counting messages sent at or after since (zero for no cutoff) until
// limit messages have been seen or the history runs out.
func (d *Discord) ChannelActivity(
	ctx context.Context,
	channelID string,
	since time.Time,
	limit int,
) (ChannelActivity, error) {
	activity := ChannelActivity{Days: map[string]int{}}
	counts := map[string]*ChatterCount{}

	var before string
	for activity.Scanned < limit {
		pageSize := min(channelHistoryPageSize, limit-activity.Scanned)
		page, err := d.session.ChannelMessages(channelID, pageSize, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return ChannelActivity{}, fmt.Errorf("error fetching messages for channel %s: %w", channelID, err)
		}

		done := len(page) < pageSize
		for _, m := range page {
			if !since.IsZero() && m.Timestamp.Before(since) {
				done = true
				break
			}
			activity.Scanned++
			if m.Author == nil || m.Author.Bot {
				continue
			}
			c, ok := counts[m.Author.ID]
			if !ok {
				c = &ChatterCount{UserID: m.Author.ID, Name: discordDisplayName(m.Author)}
				counts[m.Author.ID] = c
			}
			c.Messages++
			activity.Days[m.Timestamp.UTC().Format(time.DateOnly)]++
		}
		if done || len(page) == 0 {
			break
		}
		before = page[len(page)-1].ID
	}

	for _, c := range counts {
		activity.Chatters = append(activity.Chatters, *c)
	}
	slices.SortFunc(
		activity.Chatters, func(a, b ChatterCount) int {
			if n := cmp.Compare(b.Messages, a.Messages); n != 0 {
				return n
			}
			return cmp.Compare(a.Name, b.Name)
		},
	)
	return activity, nil
}

// discordDisplayName prefers the user's global display name
func discordDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
