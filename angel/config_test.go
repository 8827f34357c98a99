package angel

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDiscordToken  = "test-discord-token"
	testApplicationID = "test-application-id"
	testGuildID       = "test-guild"
	testChannelID     = "test-channel"
	testNotifyChannel = "test-notify-channel"
)

func TestMain(m *testing.M) {
	if os.Getenv("ANGEL_TEST_LOGS") == "" {
		defaultLogWriter = io.Discard
	}
	os.Exit(m.Run())
}

// DefaultTestConfig returns a valid config with a temporary sqlite
// database, short timeouts, and no background gift code refreshes.
func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, "test.sqlite3")
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	cfg.Discord.Token = testDiscordToken
	cfg.Discord.ApplicationID = testApplicationID
	cfg.Discord.GuildID = testGuildID
	cfg.Discord.NotificationChannelID = testNotifyChannel

	cfg.OpenAI.RequestTimeout = 2 * time.Second
	cfg.OpenAI.MaxRequestsPerSecond = 100

	cfg.Images.Timeout = 2 * time.Second
	cfg.Images.MaxRequestsPerSecond = 100
	cfg.GiftCodes.RefreshSchedule = ""
	cfg.Scheduler.TickInterval = time.Second

	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Listen = "127.0.0.1:0"
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	require.NoError(t, structValidator.Struct(cfg))
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{
			name:   "missing discord token",
			modify: func(c *Config) { c.Discord.Token = "" },
			field:  "Token",
		},
		{
			name:   "missing application id",
			modify: func(c *Config) { c.Discord.ApplicationID = "" },
			field:  "ApplicationID",
		},
		{
			name:   "unknown database type",
			modify: func(c *Config) { c.DatabaseType = "mysql" },
			field:  "DatabaseType",
		},
		{
			name:   "tick interval too long",
			modify: func(c *Config) { c.Scheduler.TickInterval = time.Hour },
			field:  "TickInterval",
		},
		{
			name:   "tick interval too short",
			modify: func(c *Config) { c.Scheduler.TickInterval = time.Millisecond },
			field:  "TickInterval",
		},
		{
			name:   "bad gift code url",
			modify: func(c *Config) { c.GiftCodes.URL = "not a url" },
			field:  "URL",
		},
		{
			name:   "openai timeout",
			modify: func(c *Config) { c.OpenAI.RequestTimeout = 0 },
			field:  "RequestTimeout",
		},
		{
			name:   "history length",
			modify: func(c *Config) { c.OpenAI.HistoryLength = 51 },
			field:  "HistoryLength",
		},
		{
			name: "ssl key without cert",
			modify: func(c *Config) {
				c.API.SSL.Cert = "cert.pem"
				c.API.SSL.Key = ""
			},
			field: "Key",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				cfg := DefaultTestConfig(t)
				tc.modify(cfg)
				err := structValidator.Struct(cfg)
				require.Error(t, err)

				var validationErrs validator.ValidationErrors
				require.ErrorAs(t, err, &validationErrs)
				fields := make([]string, 0, len(validationErrs))
				for _, fe := range validationErrs {
					fields = append(fields, fe.Field())
				}
				assert.Contains(t, fields, tc.field)
			},
		)
	}
}

func TestConfigLogValueRedactsSecrets(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.OpenAI.Token = "sk-very-secret"
	cfg.Images.HuggingFaceTokens = []string{"hf_secret"}

	rendered := cfg.LogValue().String()
	assert.NotContains(t, rendered, testDiscordToken)
	assert.NotContains(t, rendered, "sk-very-secret")
	assert.NotContains(t, rendered, "hf_secret")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, slog.LevelInfo.String())
}
