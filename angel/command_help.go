package angel

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const (
	helpEmbedColor = 0x1abc9c
	helpThumbnail  = "https://i.postimg.cc/Fzq03CJf/a463d7c7-7fc7-47fc-b24d-1324383ee2ff-removebg-preview.png"
)

const helpText = "**🤖 AI & Fun Commands**\n" +
	"• **/ask [question]** - Ask questions or get help with anything\n" +
	"• **/imagine [prompt]** - Generate an AI image from your description\n\n" +
	"**🎁 Gift Codes**\n" +
	"• **/giftcode** - Get active Whiteout Survival gift codes\n\n" +
	"**📅 Reminder Commands**\n" +
	"• **/reminder [time] [message]** - Set a timed or repeating reminder\n" +
	"• **/delete_reminder [id]** - Delete one of your reminders\n" +
	"• **/listreminder** - View active reminders in this channel\n\n" +
	"**🎪 Events & Personality**\n" +
	"• **/event [name]** - Get info on events (use autocomplete)\n" +
	"• **/add_trait [trait]** - Add a trait to personalize your profile\n\n" +
	"**📊 Server Commands**\n" +
	"• **/serverstats** - View detailed server statistics\n" +
	"• **/mostactive** - See this month's most active users in the channel\n\n" +
	"**❓ Help**\n" +
	"• **/help** - Show this command list\n\n" +
	"**⏰ Reminder times**\n" +
	"`in 30 minutes` · `tomorrow at 3pm ist` · `today at 18:00` · " +
	"`daily at 9am est` · `every 2 days at 20:00` · `weekly at 10am` · " +
	"`2025-12-24 18:00`"

func (b *Bot) commandHelp(ctx context.Context, h InteractionHandler, _ *User) {
	_ = h.Respond(
		ctx, embedResponse(
			&discordgo.MessageEmbed{
				Title:       "🤖 Bot Commands",
				Description: helpText,
				Color:       helpEmbedColor,
				Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: helpThumbnail},
				Footer:      &discordgo.MessageEmbedFooter{Text: "Type a command to get started!"},
			},
		),
	)
}
