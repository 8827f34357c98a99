package angel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lmittmann/tint"
)

func (b *Bot) commandAddTrait(ctx context.Context, h InteractionHandler, u *User) {
	var trait string
	if opt, ok := discordInteractionOptions(h.GetInteraction())[optionTrait]; ok {
		trait = opt.StringValue()
	}

	traits, err := b.users.AddTrait(ctx, u.ID, trait)
	if err != nil {
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			contextLoggerOr(ctx, b.logger).ErrorContext(ctx, "error adding trait", tint.Err(err))
		}
		_ = h.Respond(
			ctx,
			ephemeralResponse(
				userErrorMessage(
					err,
					"Sorry, there was an error adding your trait. Please try again.",
				),
			),
		)
		return
	}

	_ = h.Respond(
		ctx, ephemeralResponse(
			fmt.Sprintf(
				"Added trait '%s' to your profile, %s! Your Angel responses will now be "+
					"more personalized. (%d/%d traits)",
				strings.TrimSpace(trait),
				u.DisplayName(),
				len(traits),
				userMaxTraits,
			),
		),
	)
}
