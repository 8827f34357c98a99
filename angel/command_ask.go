package angel

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

const (
	askEmbedColor = 0x9b59b6
	askThumbnail  = "https://i.postimg.cc/rmvm9ygB/6a2065b5-1bc3-41db-a5f6-b948e7151810-removebg-preview.png?width=50"

	// askQuestionEchoLength caps the question echoed above the answer,
	// leaving room in the 2000 character message content limit
	askQuestionEchoLength = 1800
	askErrorMessage       = "❌ I encountered an error while processing your question. Please try again."
)

// imageIntentPrefixes mark an /ask question that's really an /imagine
var imageIntentPrefixes = []string{
	"create an image",
	"generate an image",
	"make an image",
	"draw me",
	"draw an image",
}

// imagePrompt reports whether question asks for an image, and returns
// the prompt with the request phrasing removed. "create an image of a
// sunset" becomes "a sunset".
func imagePrompt(question string) (string, bool) {
	q := strings.TrimSpace(question)
	lower := strings.ToLower(q)
	for _, prefix := range imageIntentPrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		prompt := strings.TrimSpace(q[len(prefix):])
		for _, filler := range []string{"of ", "showing ", "with ", ":"} {
			if strings.HasPrefix(strings.ToLower(prompt), filler) {
				prompt = strings.TrimSpace(prompt[len(filler):])
				break
			}
		}
		if prompt == "" {
			prompt = q
		}
		return prompt, true
	}
	return "", false
}

// systemPrompt personalises the configured prompt with the user's name
// and traits
func systemPrompt(base string, u *User) string {
	var sb strings.Builder
	sb.WriteString(base)
	name := u.DisplayName()
	if name != "" {
		fmt.Fprintf(&sb, "\n\nYou're talking with %s.", name)
	}
	if len(u.Traits) > 0 {
		fmt.Fprintf(
			&sb,
			" About %s: they are %s. Tailor your tone and humor accordingly.",
			name,
			strings.Join(u.Traits, ", "),
		)
	}
	return sb.String()
}

// chatMessages builds the completion request: system prompt, prior
// exchanges (oldest first), then the new question
func chatMessages(system string, history []ChatMessage, question string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system},
	)
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question},
	)
}

// commandAsk answers a question with the chat model. The exchange is
// only saved to the user's history once an answer comes back, so a
// failed or timed out request leaves nothing behind.
func (b *Bot) commandAsk(ctx context.Context, h InteractionHandler, u *User) {
	logger := contextLoggerOr(ctx, b.logger)
	if err := h.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}

	var question string
	if opt, ok := discordInteractionOptions(h.GetInteraction())[optionQuestion]; ok {
		question = strings.TrimSpace(opt.StringValue())
	}
	if question == "" {
		_, _ = h.Edit(ctx, editContent("❌ Please ask a question."))
		return
	}

	if prompt, ok := imagePrompt(question); ok {
		logger.InfoContext(ctx, "routing question to image generation", "prompt", prompt)
		b.sendImage(ctx, h, u, prompt)
		return
	}

	history, err := b.chats.History(ctx, u.ID, b.config.OpenAI.HistoryLength)
	if err != nil {
		logger.ErrorContext(ctx, "error loading chat history, continuing without it", tint.Err(err))
		history = nil
	}

	answer, err := b.openai.Chat(
		ctx,
		chatMessages(systemPrompt(b.config.OpenAI.SystemPrompt, u), history, question),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error answering question", tint.Err(err))
		_, _ = h.Edit(ctx, editContent(userErrorMessage(err, askErrorMessage)))
		return
	}

	if err = b.chats.SaveExchange(ctx, u.ID, question, answer); err != nil {
		logger.ErrorContext(ctx, "error saving chat history", tint.Err(err))
	}

	b.sendAnswer(ctx, h, u, question, answer)
}

// sendAnswer edits the deferred response with the first chunk of the
// answer, and sends any remaining chunks as followups
func (b *Bot) sendAnswer(ctx context.Context, h InteractionHandler, u *User, question, answer string) {
	logger := contextLoggerOr(ctx, b.logger)
	chunks := chunkText(answer, discordMaxEmbedDescription)

	content := fmt.Sprintf(
		"%s asked: `%s`",
		u.DisplayName(),
		shortenString(strings.ReplaceAll(question, "`", "'"), askQuestionEchoLength),
	)
	first := &discordgo.MessageEmbed{
		Description: chunks[0],
		Color:       askEmbedColor,
	}
	if len(chunks) == 1 {
		first.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: askThumbnail}
	}
	if _, err := h.Edit(
		ctx, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &[]*discordgo.MessageEmbed{first},
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{},
			},
		},
	); err != nil {
		return
	}

	for idx, chunk := range chunks[1:] {
		embed := &discordgo.MessageEmbed{Description: chunk, Color: askEmbedColor}
		if idx == len(chunks)-2 {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: askThumbnail}
		}
		if _, err := h.Followup(
			ctx, &discordgo.WebhookParams{
				Embeds: []*discordgo.MessageEmbed{embed},
				AllowedMentions: &discordgo.MessageAllowedMentions{
					Parse: []discordgo.AllowedMentionType{},
				},
			},
		); err != nil {
			logger.ErrorContext(ctx, "stopped sending answer chunks", "sent", idx+1, "total", len(chunks))
			return
		}
	}
}
