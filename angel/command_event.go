package angel

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const colorError = 0xff0000

func (b *Bot) commandEvent(ctx context.Context, h InteractionHandler, u *User) {
	var key string
	if opt, ok := discordInteractionOptions(h.GetInteraction())[optionEvent]; ok {
		key = opt.StringValue()
	}

	event, ok := LookupEvent(key)
	if !ok {
		// the user typed something instead of picking a suggestion
		if matches := SearchEvents(key); len(matches) == 1 {
			event, ok = matches[0], true
		}
	}
	if !ok {
		_ = h.Respond(
			ctx, ephemeralResponse(
				"", &discordgo.MessageEmbed{
					Title: "❌ Event Not Found",
					Description: fmt.Sprintf(
						"Event '%s' not found. Try using the autocomplete suggestions.",
						shortenString(key, 100),
					),
					Color: colorError,
				},
			),
		)
		return
	}

	resp := embedResponse(eventEmbed(event))
	resp.Data.Content = fmt.Sprintf("%s requested info about: `%s`", u.DisplayName(), event.Name)
	_ = h.Respond(ctx, resp)
}

func eventEmbed(e Event) *discordgo.MessageEmbed {
	var sb strings.Builder
	sb.WriteString("📚 **Resources**\n")
	if e.Guide != "" {
		fmt.Fprintf(&sb, "📖 Guide: [Click here to view guide](%s)\n", e.Guide)
	}
	if e.Video != "" {
		fmt.Fprintf(&sb, "🎬 Video: [Watch tutorial video](%s)\n", e.Video)
	}
	sb.WriteString("\n💡 **Tips & Strategies**\n")
	if e.Tips != "" {
		sb.WriteString(e.Tips)
	} else {
		sb.WriteString("Tips coming soon...")
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", e.CategoryEmoji(), e.Name),
		Description: sb.String(),
		Color:       e.Color(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "⚔️ Difficulty", Value: e.Difficulty, Inline: true},
			{Name: "⏱️ Duration", Value: e.Duration, Inline: true},
			{Name: "🏷️ Category", Value: e.Category, Inline: true},
			{Name: "🎁 Rewards", Value: e.Rewards},
		},
	}
	if e.Image != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Image}
	}
	return embed
}

// eventChoices suggests events whose key, name or category contains
// what's been typed so far
func eventChoices(
	focused *discordgo.ApplicationCommandInteractionDataOption,
) []*discordgo.ApplicationCommandOptionChoice {
	typed, _ := focused.Value.(string)
	typed = strings.ToLower(strings.TrimSpace(typed))

	choices := []*discordgo.ApplicationCommandOptionChoice{}
	for _, e := range events {
		if typed != "" &&
			!strings.Contains(e.Key, typed) &&
			!strings.Contains(strings.ToLower(e.Name), typed) &&
			!strings.Contains(strings.ToLower(e.Category), typed) {
			continue
		}
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{
				Name:  fmt.Sprintf("%s %s", e.CategoryEmoji(), e.Name),
				Value: e.Key,
			},
		)
		if len(choices) == discordMaxAutocomplete {
			break
		}
	}
	return choices
}
