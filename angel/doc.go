// Package angel implements "Angel", a Discord bot for a Whiteout Survival
// alliance.
//
// The bot answers slash commands and keeps a small amount of state in a
// relational database (SQLite by default, Postgres optionally):
//
//   - /ask: questions answered by an OpenAI chat model, with a short
//     per-user conversation history and user-supplied traits.
//   - /imagine: image generation through Hugging Face, falling back to
//     OpenAI images.
//   - /giftcode: active gift codes, scraped from a public page and cached.
//   - /event: tips for recurring in-game events, with autocomplete.
//   - /reminder, /delete_reminder, /listreminder: channel reminders,
//     one-shot or recurring.
//   - /serverstats and /mostactive: guild counts and a monthly
//     per-channel leaderboard, read over REST.
//   - /add_trait and /help.
//
// Reminders are delivered by [ReminderScheduler], a cron-driven loop that
// scans the [ReminderStore] for due rows on each tick, sends them through
// [Discord], then advances recurring rows or removes one-shot ones.
//
// Failures are split into validation errors ([ValidationError], shown to
// the user as-is), upstream errors ([ExternalError], reported as "try
// again later") and store errors (logged, reported generically).
//
// An optional admin API ([API]) exposes reminders, a manual scheduler
// tick, the gift code cache and command registration over basic auth.
//
// Everything is configured through a single [Config], built once at
// startup by the cmd package and passed to [New].
package angel
