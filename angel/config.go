//nolint:lll // struct tags can't be split
package angel

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	EnvvarSetEnvPrefix    = "ANGEL_ENV_PREFIX"
	DefaultEnvPrefix      = "ANGEL"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "angel.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds the graceful shutdown. A reminder tick
	// that is mid-delivery gets this long to finish.
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent  = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	DefaultDiscordLogLevel       = slog.LevelInfo
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordErrorMessage   = "Sorry, something went wrong! Please try again later."
	DefaultDiscordCustomStatus   = "/help for commands"
	DefaultDiscordStartupMessage = "Angel is online! ❄️"
	DefaultDiscordMainChannel    = "💬┃main-chat"
	discordMaxMessageLength      = 2000
	discordMaxEmbedDescription   = 4096
	discordMaxAutocomplete       = 25

	DefaultOpenAIBaseURL              = "https://api.openai.com/v1"
	DefaultOpenAIChatModel            = openai.GPT4oMini
	DefaultOpenAIImageModel           = openai.CreateImageModelDallE2
	DefaultOpenAIImageSize            = openai.CreateImageSize512x512
	DefaultOpenAIMaxTokens            = 1000
	DefaultOpenAIRequestTimeout       = 30 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAIHistoryLength        = 10
	DefaultOpenAILogLevel             = slog.LevelInfo
	DefaultOpenAISystemPrompt         = "You are Angel, a friendly and knowledgeable assistant for a " +
		"Whiteout Survival alliance. Give practical, concise answers about the game " +
		"(heroes, events, troops, furnace upgrades, alliance strategy) and help members " +
		"with anything else they ask. Keep replies under 4000 characters."

	DefaultHuggingFaceURL      = "https://api-inference.huggingface.co/models"
	DefaultHuggingFaceModel    = "stabilityai/stable-diffusion-xl-base-1.0"
	DefaultImageTimeout        = 120 * time.Second
	DefaultImageLogLevel       = slog.LevelInfo
	DefaultImageNegativePrompt = "blurry, bad quality, distorted, deformed, ugly, bad anatomy"

	DefaultImageMaxRequestsPerSecond = 0.5

	DefaultGiftCodeURL       = "https://wosgiftcodes.com/"
	DefaultGiftCodeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultGiftCodeTimeout         = 15 * time.Second
	DefaultGiftCodeCacheTTL        = 30 * time.Minute
	DefaultGiftCodeRefreshSchedule = "@every 1h"
	DefaultGiftCodeLogLevel        = slog.LevelInfo

	DefaultSchedulerTickInterval = 30 * time.Second
	DefaultSchedulerLogLevel     = slog.LevelInfo
	DefaultReminderListLimit     = 15

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPITLSMinVersion        = tls.VersionTLS12
	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelWarn
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is read once at startup and handed to every component. Nothing
// mutates it after [New] returns.
type Config struct {
	// Database connection string (file path for sqlite, DSN for postgres)
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and register commands before startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout" binding:"min=1s"`

	// ShutdownTimeout is the time to allow for a graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout" binding:"min=1s"`

	Discord   *DiscordConfig   `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`
	OpenAI    *OpenAIConfig    `yaml:"openai" mapstructure:"openai" json:"openai" binding:"required"`
	Images    *ImageConfig     `yaml:"images" mapstructure:"images" json:"images" binding:"required"`
	GiftCodes *GiftCodeConfig  `yaml:"giftcodes" mapstructure:"giftcodes" json:"giftcodes" binding:"required"`
	Scheduler *SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler" json:"scheduler" binding:"required"`
	API       *APIConfig       `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If both this and NotificationChannelID are set, the message is sent
	// to that channel each time the bot connects to the gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	// Shown to users when a command fails for a reason they can't fix
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Name of the channel /serverstats scans for its most active user.
	// Empty skips the scan.
	MainChannelName string `yaml:"main_channel_name" mapstructure:"main_channel_name" json:"main_channel_name"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// OpenAIConfig configures the chat completion endpoint. Any
// OpenAI-compatible base URL works (OpenRouter, a local gateway, ...).
type OpenAIConfig struct {
	// API token. When empty, /ask and the image fallback report that the
	// AI isn't configured instead of calling out.
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	BaseURL   string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`
	ChatModel string `yaml:"chat_model" mapstructure:"chat_model" json:"chat_model" binding:"required"`

	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`
	ImageSize  string `yaml:"image_size" mapstructure:"image_size" json:"image_size"`

	MaxTokens    int    `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt" binding:"required"`

	// RequestTimeout bounds every outbound call, after which the user
	// gets a failure message
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`

	// Number of previous messages included as conversation context
	HistoryLength int `yaml:"history_length" mapstructure:"history_length" json:"history_length" binding:"min=0,max=50"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ImageConfig configures /imagine. Hugging Face tokens are tried in
// order, and OpenAI images are used when all of them fail.
type ImageConfig struct {
	HuggingFaceTokens []string `yaml:"huggingface_tokens" mapstructure:"huggingface_tokens" json:"huggingface_tokens" log:"[redacted]"`
	HuggingFaceURL    string   `yaml:"huggingface_url" mapstructure:"huggingface_url" json:"huggingface_url" binding:"required,url"`
	HuggingFaceModel  string   `yaml:"huggingface_model" mapstructure:"huggingface_model" json:"huggingface_model" binding:"required"`
	NegativePrompt    string   `yaml:"negative_prompt" mapstructure:"negative_prompt" json:"negative_prompt"`

	// Hugging Face requests per second, shared across tokens
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`

	Timeout  time.Duration  `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// GiftCodeConfig configures the gift code scraper
type GiftCodeConfig struct {
	URL       string        `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// Codes are re-fetched on demand once older than this
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`

	// Cron spec for background refreshes. Empty disables them.
	RefreshSchedule string `yaml:"refresh_schedule" mapstructure:"refresh_schedule" json:"refresh_schedule"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// SchedulerConfig configures the reminder scheduler
type SchedulerConfig struct {
	TickInterval time.Duration  `yaml:"tick_interval" mapstructure:"tick_interval" json:"tick_interval" binding:"min=1s,max=5m"`
	LogLevel     *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS. Plain HTTP is served when no cert is set.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Enables pprof endpoints and gin debug mode
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key" binding:"required_with=Cert"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(level)
	return v
}

// DefaultConfig returns a Config with all default settings populated.
// Credentials are left empty.
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			StartupMessage:    DefaultDiscordStartupMessage,
			ErrorMessage:      DefaultDiscordErrorMessage,
			CustomStatus:      DefaultDiscordCustomStatus,
			MainChannelName:   DefaultDiscordMainChannel,
		},
		OpenAI: &OpenAIConfig{
			BaseURL:              DefaultOpenAIBaseURL,
			ChatModel:            DefaultOpenAIChatModel,
			ImageModel:           DefaultOpenAIImageModel,
			ImageSize:            DefaultOpenAIImageSize,
			MaxTokens:            DefaultOpenAIMaxTokens,
			SystemPrompt:         DefaultOpenAISystemPrompt,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			HistoryLength:        DefaultOpenAIHistoryLength,
			LogLevel:             newLevelVar(DefaultOpenAILogLevel),
		},
		Images: &ImageConfig{
			HuggingFaceURL:   DefaultHuggingFaceURL,
			HuggingFaceModel: DefaultHuggingFaceModel,
			NegativePrompt:   DefaultImageNegativePrompt,
			Timeout:          DefaultImageTimeout,
			LogLevel:         newLevelVar(DefaultImageLogLevel),

			MaxRequestsPerSecond: DefaultImageMaxRequestsPerSecond,
		},
		GiftCodes: &GiftCodeConfig{
			URL:             DefaultGiftCodeURL,
			UserAgent:       DefaultGiftCodeUserAgent,
			Timeout:         DefaultGiftCodeTimeout,
			CacheTTL:        DefaultGiftCodeCacheTTL,
			RefreshSchedule: DefaultGiftCodeRefreshSchedule,
			LogLevel:        newLevelVar(DefaultGiftCodeLogLevel),
		},
		Scheduler: &SchedulerConfig{
			TickInterval: DefaultSchedulerTickInterval,
			LogLevel:     newLevelVar(DefaultSchedulerLogLevel),
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
