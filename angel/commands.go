package angel

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const (
	CommandReminder       = "reminder"
	CommandDeleteReminder = "delete_reminder"
	CommandListReminder   = "listreminder"
	CommandAsk            = "ask"
	CommandImagine        = "imagine"
	CommandGiftCode       = "giftcode"
	CommandEvent          = "event"
	CommandAddTrait       = "add_trait"
	CommandServerStats    = "serverstats"
	CommandMostActive     = "mostactive"
	CommandHelp           = "help"

	optionTime        = "time"
	optionMessage     = "message"
	optionChannel     = "channel"
	optionMentionUser = "mention_user"
	optionMentionRole = "mention_role"
	optionEveryone    = "everyone"
	optionReminderID  = "reminder_id"
	optionMine        = "mine"
	optionQuestion    = "question"
	optionPrompt      = "prompt"
	optionEvent       = "event"
	optionTrait       = "trait"

	askMaxQuestionLength   = 2000
	imagineMaxPromptLength = 1000
)

// commandFunc runs one slash command. u is the invoking user, already
// persisted.
type commandFunc func(b *Bot, ctx context.Context, h InteractionHandler, u *User)

var commandHandlers = map[string]commandFunc{
	CommandReminder:       (*Bot).commandReminder,
	CommandDeleteReminder: (*Bot).commandDeleteReminder,
	CommandListReminder:   (*Bot).commandListReminder,
	CommandAsk:            (*Bot).commandAsk,
	CommandImagine:        (*Bot).commandImagine,
	CommandGiftCode:       (*Bot).commandGiftCode,
	CommandEvent:          (*Bot).commandEvent,
	CommandAddTrait:       (*Bot).commandAddTrait,
	CommandServerStats:    (*Bot).commandServerStats,
	CommandMostActive:     (*Bot).commandMostActive,
	CommandHelp:           (*Bot).commandHelp,
}

// autocompleteFunc returns choices for the focused option
type autocompleteFunc func(
	focused *discordgo.ApplicationCommandInteractionDataOption,
) []*discordgo.ApplicationCommandOptionChoice

var autocompleteHandlers = map[string]autocompleteFunc{
	CommandEvent: eventChoices,
}

// appCommands is the full command set, sent with a bulk overwrite on
// startup
func appCommands() []*discordgo.ApplicationCommand {
	dmPerm := false
	minID := 1.0
	minLength := 1

	guildOnly := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
	}
	anywhere := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
		discordgo.InteractionContextPrivateChannel,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:         CommandReminder,
			Description:  "Set a reminder with time and message",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Contexts:     &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionTime,
					Description: "When to remind (e.g. '5 minutes', 'tomorrow 3pm IST', 'daily at 9am')",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionMessage,
					Description: "What to be reminded about",
					Required:    true,
					MinLength:   &minLength,
					MaxLength:   reminderMaxMessageLength,
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        optionChannel,
					Description: "Channel to send the reminder in (defaults to this one)",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
						discordgo.ChannelTypeGuildNews,
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        optionMentionUser,
					Description: "Member to ping when the reminder fires",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        optionMentionRole,
					Description: "Role to ping when the reminder fires",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        optionEveryone,
					Description: "Ping @everyone when the reminder fires",
				},
			},
		},
		{
			Name:         CommandDeleteReminder,
			Description:  "Delete one of your reminders",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Contexts:     &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        optionReminderID,
					Description: "The ID of the reminder to delete (use /listreminder to see IDs)",
					Required:    true,
					MinValue:    &minID,
				},
			},
		},
		{
			Name:         CommandListReminder,
			Description:  "View active reminders in this channel",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Contexts:     &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        optionMine,
					Description: "Only show reminders you created, in any channel",
				},
			},
		},
		{
			Name:        CommandAsk,
			Description: "Ask a question or get help with anything!",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionQuestion,
					Description: "Your question or message",
					Required:    true,
					MinLength:   &minLength,
					MaxLength:   askMaxQuestionLength,
				},
			},
		},
		{
			Name:        CommandImagine,
			Description: "Generate an image using AI based on your description",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionPrompt,
					Description: "Describe the image you want to generate",
					Required:    true,
					MinLength:   &minLength,
					MaxLength:   imagineMaxPromptLength,
				},
			},
		},
		{
			Name:        CommandGiftCode,
			Description: "Get active Whiteout Survival gift codes",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
		},
		{
			Name:        CommandEvent,
			Description: "Get information about an event",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         optionEvent,
					Description:  "Type the event name (e.g. bear, foundry)",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        CommandAddTrait,
			Description: "Add a personality trait to your profile",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionTrait,
					Description: "The trait to add to your profile",
					Required:    true,
					MinLength:   &minLength,
					MaxLength:   userMaxTraitLength,
				},
			},
		},
		{
			Name:         CommandServerStats,
			Description:  "Show detailed server statistics",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Contexts:     &guildOnly,
		},
		{
			Name:         CommandMostActive,
			Description:  "Show the top 3 most active users in this channel this month",
			Type:         discordgo.ChatApplicationCommand,
			DMPermission: &dmPerm,
			Contexts:     &guildOnly,
		},
		{
			Name:        CommandHelp,
			Description: "Show information about available commands",
			Type:        discordgo.ChatApplicationCommand,
			Contexts:    &anywhere,
		},
	}
}

// focusedOption returns the option the user is currently typing in
func focusedOption(i *discordgo.InteractionCreate) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			return opt
		}
	}
	return nil
}

// handleAutocomplete answers an autocomplete interaction. Commands
// without an autocomplete handler get an empty choice list.
func (b *Bot) handleAutocomplete(ctx context.Context, h InteractionHandler) {
	i := h.GetInteraction()
	choices := []*discordgo.ApplicationCommandOptionChoice{}
	if fn, ok := autocompleteHandlers[i.ApplicationCommandData().Name]; ok {
		if focused := focusedOption(i); focused != nil {
			choices = fn(focused)
		}
	}
	if len(choices) > discordMaxAutocomplete {
		choices = choices[:discordMaxAutocomplete]
	}
	_ = h.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	)
}
