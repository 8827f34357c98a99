package angel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	statsEmbedColor = 0x3498db
	errorEmbedColor = 0xff0000

	guildOnlyMessage = "This command can only be used in a server."
)

func (b *Bot) commandServerStats(ctx context.Context, h InteractionHandler, _ *User) {
	logger := contextLoggerOr(ctx, b.logger)
	i := h.GetInteraction()
	if i.GuildID == "" {
		_ = h.Respond(ctx, ephemeralResponse(guildOnlyMessage))
		return
	}
	if err := h.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}

	stats, err := b.discord.GuildStats(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error fetching server stats", "guild_id", i.GuildID, tint.Err(err))
		_, _ = h.Edit(
			ctx, &discordgo.WebhookEdit{
				Embeds: &[]*discordgo.MessageEmbed{
					errorEmbed(
						"❌ Error Fetching Server Statistics",
						"I encountered an error while fetching server statistics. Please try again.",
					),
				},
			},
		)
		return
	}
	_, _ = h.Edit(ctx, &discordgo.WebhookEdit{Embeds: &[]*discordgo.MessageEmbed{serverStatsEmbed(stats)}})
}

func serverStatsEmbed(s GuildStats) *discordgo.MessageEmbed {
	inline := func(name string, value any) *discordgo.MessageEmbedField {
		return &discordgo.MessageEmbedField{Name: name, Value: fmt.Sprint(value), Inline: true}
	}

	created := "Unknown"
	if !s.CreatedAt.IsZero() {
		created = s.CreatedAt.Format("2006-01-02 15:04 UTC")
	}
	offline := max(s.Members-s.Online, 0)

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("📊 %s Server Stats", s.Name),
		Color: statsEmbedColor,
		Fields: []*discordgo.MessageEmbedField{
			inline("👥 Members", s.Members),
			inline("📅 Created", created),
			inline("💬 Text Channels", s.TextChannels),
			inline("🔊 Voice Channels", s.VoiceChannels),
			inline("📁 Categories", s.Categories),
			inline("🎭 Roles", s.Roles),
			inline("🟢 Online", s.Online),
			inline("⚫ Offline", offline),
			inline("🚫 Content Filter", contentFilterName(s.ContentFilter)),
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Server ID: " + s.ID},
	}
	if s.BoostTier > discordgo.PremiumTierNone {
		embed.Fields = append(
			embed.Fields,
			inline("🚀 Boost Level", strconv.Itoa(int(s.BoostTier))),
			inline("💎 Boosts", s.Boosts),
		)
	}
	if s.TopChatter != nil {
		embed.Fields = append(
			embed.Fields,
			inline("Most Active User", fmt.Sprintf("%s (%d messages)", s.TopChatter.Name, s.TopChatter.Messages)),
		)
	}
	if s.IconURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: s.IconURL}
	}
	return embed
}

func contentFilterName(level discordgo.ExplicitContentFilterLevel) string {
	switch level {
	case discordgo.ExplicitContentFilterDisabled:
		return "Disabled"
	case discordgo.ExplicitContentFilterMembersWithoutRoles:
		return "Members Without Roles"
	case discordgo.ExplicitContentFilterAllMembers:
		return "All Members"
	default:
		return "Unknown"
	}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: errorEmbedColor}
}
