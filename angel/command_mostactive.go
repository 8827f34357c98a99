package angel

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const mostActiveTop = 3

var leaderboardPlaces = [mostActiveTop]string{"🥇 1st Place", "🥈 2nd Place", "🥉 3rd Place"}

func (b *Bot) commandMostActive(ctx context.Context, h InteractionHandler, _ *User) {
	logger := contextLoggerOr(ctx, b.logger)
	i := h.GetInteraction()
	if i.GuildID == "" {
		_ = h.Respond(ctx, ephemeralResponse(guildOnlyMessage))
		return
	}
	if err := h.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}

	now := b.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month := now.Format("January 2006")

	activity, err := b.discord.ChannelActivity(ctx, i.ChannelID, monthStart, mostActiveScanLimit)
	if err != nil {
		logger.ErrorContext(ctx, "error scanning channel history", "channel_id", i.ChannelID, tint.Err(err))
		_, _ = h.Edit(
			ctx, &discordgo.WebhookEdit{
				Embeds: &[]*discordgo.MessageEmbed{
					errorEmbed(
						"❌ Error Fetching Message History",
						"I encountered an error while fetching message history. Please try again.",
					),
				},
			},
		)
		return
	}
	logger.InfoContext(
		ctx, "scanned channel history",
		"channel_id", i.ChannelID,
		"messages", activity.Scanned,
		"chatters", len(activity.Chatters),
	)

	if len(activity.Chatters) == 0 {
		_, _ = h.Edit(ctx, editContent(fmt.Sprintf("No messages found in %s.", month)))
		return
	}
	_, _ = h.Edit(
		ctx, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{mostActiveEmbed(activity, month, i.ChannelID)},
		},
	)
}

func mostActiveEmbed(activity ChannelActivity, month string, channelID string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🏆 Top Active Users",
		Description: fmt.Sprintf("Based on messages in %s in <#%s>", month, channelID),
		Color:       statsEmbedColor,
	}

	top := activity.Chatters[:min(len(activity.Chatters), mostActiveTop)]
	for idx, c := range top {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  leaderboardPlaces[idx],
				Value: fmt.Sprintf("%s (%d messages)", c.Name, c.Messages),
			},
		)
	}
	if len(top) < mostActiveTop {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "ℹ️ Note",
				Value: fmt.Sprintf("Only %d active users found in %s.", len(top), month),
			},
		)
	}

	var total int
	for _, n := range activity.Days {
		total += n
	}
	if day, n := activity.BusiestDay(); n > 0 {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name: "📈 Activity",
				Value: fmt.Sprintf(
					"%d messages over %d active days (%.1f/day)\nBusiest day: %s with %d messages",
					total, len(activity.Days), float64(total)/float64(len(activity.Days)), day, n,
				),
			},
		)
	}
	return embed
}
