package angel

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const giftCodeThumbnail = "https://i.postimg.cc/s2xHV7N7/Groovy-gift.gif"

func (b *Bot) commandGiftCode(ctx context.Context, h InteractionHandler, u *User) {
	if err := h.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}

	list := b.giftCodes.Active(ctx)
	if len(list.Codes) == 0 {
		_, _ = h.Edit(ctx, editContent("No active gift codes available right now. Check back later! 🎁"))
		return
	}

	content := fmt.Sprintf("%s requested gift codes", u.DisplayName())
	_, _ = h.Edit(
		ctx, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &[]*discordgo.MessageEmbed{giftCodeEmbed(list)},
		},
	)
}

func giftCodeEmbed(list GiftCodeList) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "✨ Active Whiteout Survival Gift Codes ✨",
		Description: fmt.Sprintf(
			"Last updated: %s",
			discordTimestamp(list.FetchedAt, "f"),
		),
		Color:     giftCodeEmbedColor,
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: giftCodeThumbnail},
	}

	shown := list.Codes
	if len(shown) > giftCodeMaxShown {
		shown = shown[:giftCodeMaxShown]
	}
	for _, code := range shown {
		rewards := code.Rewards
		if rewards == "" {
			rewards = "Rewards not specified"
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name: "🎟️ Code:",
				Value: shortenString(
					fmt.Sprintf("```%s```\n*Rewards:* %s\n*Expires:* %s", code.Code, rewards, code.Expiry),
					1024,
				),
			},
		)
	}

	footer := "Use /giftcode to see all active codes!"
	if extra := len(list.Codes) - len(shown); extra > 0 {
		footer = fmt.Sprintf("And %d more codes...", extra)
	}
	if list.Fallback {
		footer += " (source unavailable, showing known codes)"
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	return embed
}
