package angel

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	imagineEmbedColor       = 0x1abc9c
	imaginePromptEchoLength = 1000
	imagineErrorMessage     = "❌ Sorry, I couldn't generate your image right now. " +
		"Please try again later or check your prompt."
)

func (b *Bot) commandImagine(ctx context.Context, h InteractionHandler, u *User) {
	if err := h.Respond(ctx, deferredResponse(false)); err != nil {
		return
	}
	var prompt string
	if opt, ok := discordInteractionOptions(h.GetInteraction())[optionPrompt]; ok {
		prompt = strings.TrimSpace(opt.StringValue())
	}
	if prompt == "" {
		_, _ = h.Edit(ctx, editContent("❌ Please describe the image you want."))
		return
	}
	b.sendImage(ctx, h, u, prompt)
}

// sendImage generates an image for prompt and edits the deferred
// response with it attached. Generation is bounded by ImageConfig.Timeout.
func (b *Bot) sendImage(ctx context.Context, h InteractionHandler, u *User, prompt string) {
	logger := contextLoggerOr(ctx, b.logger)

	genCtx, cancel := context.WithTimeout(ctx, b.config.Images.Timeout)
	data, err := b.images.Generate(genCtx, prompt)
	cancel()
	if err != nil {
		logger.ErrorContext(ctx, "error generating image", tint.Err(err))
		msg := userErrorMessage(classifyUpstreamError(serviceNameImage, err), imagineErrorMessage)
		_, _ = h.Edit(ctx, editContent(msg))
		return
	}

	contentType := http.DetectContentType(data)
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	filename := fmt.Sprintf("angel-%s.%s", uuid.NewString(), ext)

	content := fmt.Sprintf("🎨 %s requested an image", u.DisplayName())
	embed := &discordgo.MessageEmbed{
		Title:       "🎨 Generated Image",
		Description: shortenString(prompt, imaginePromptEchoLength),
		Color:       imagineEmbedColor,
		Image:       &discordgo.MessageEmbedImage{URL: "attachment://" + filename},
		Footer:      &discordgo.MessageEmbedFooter{Text: "Requested by " + u.DisplayName()},
	}
	_, _ = h.Edit(
		ctx, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &[]*discordgo.MessageEmbed{embed},
			Files: []*discordgo.File{
				{
					Name:        filename,
					ContentType: contentType,
					Reader:      bytes.NewReader(data),
				},
			},
		},
	)
}
