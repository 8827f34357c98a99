package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/Magnus-zzz/Whiteout-Survival--Discord-bot/angel"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = angel.DefaultConfig()
	configFile string
)

// stringSliceKeys are whitespace-separated lists when set from the
// environment
var stringSliceKeys = []string{
	"images.huggingface_tokens",
	"api.cors.allow_headers",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "angel [flags]",
	Short: "Angel, a Discord bot for Whiteout Survival alliances",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := loadConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

// loadConfig decodes viper's settings into c
func loadConfig(c *angel.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return l, nil
}

// LevelToStringHookFunc decodes strings like "DEBUG" or "warn" into
// a *slog.LevelVar
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}
	setDefaults(angel.DefaultConfig())

	envPrefix := os.Getenv(angel.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = angel.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))

	// Convert values to correct types
	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}
	// levels stay strings in viper, LevelToStringHookFunc decodes them
	for key := range levelVars(cfg) {
		lvl, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, lvl.Level().String())
	}
}

// setDefaults registers every default with viper, so each setting can be
// overridden from the environment
func setDefaults(d *angel.Config) {
	viper.SetDefault("database", d.Database)
	viper.SetDefault("database_type", d.DatabaseType)
	viper.SetDefault("database_slow_threshold", d.DatabaseSlowThreshold)
	viper.SetDefault("startup_timeout", d.StartupTimeout)
	viper.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.gateway_intents", d.Discord.GatewayIntents)
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault("discord.startup_message", d.Discord.StartupMessage)
	viper.SetDefault("discord.error_message", d.Discord.ErrorMessage)
	viper.SetDefault("discord.custom_status", d.Discord.CustomStatus)
	viper.SetDefault("discord.main_channel_name", d.Discord.MainChannelName)

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	viper.SetDefault("openai.chat_model", d.OpenAI.ChatModel)
	viper.SetDefault("openai.image_model", d.OpenAI.ImageModel)
	viper.SetDefault("openai.image_size", d.OpenAI.ImageSize)
	viper.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	viper.SetDefault("openai.system_prompt", d.OpenAI.SystemPrompt)
	viper.SetDefault("openai.request_timeout", d.OpenAI.RequestTimeout)
	viper.SetDefault("openai.max_requests_per_second", d.OpenAI.MaxRequestsPerSecond)
	viper.SetDefault("openai.history_length", d.OpenAI.HistoryLength)

	// Image generation
	viper.SetDefault("images.huggingface_tokens", []string{})
	viper.SetDefault("images.huggingface_url", d.Images.HuggingFaceURL)
	viper.SetDefault("images.huggingface_model", d.Images.HuggingFaceModel)
	viper.SetDefault("images.negative_prompt", d.Images.NegativePrompt)
	viper.SetDefault("images.timeout", d.Images.Timeout)
	viper.SetDefault("images.max_requests_per_second", d.Images.MaxRequestsPerSecond)

	// Gift codes
	viper.SetDefault("giftcodes.url", d.GiftCodes.URL)
	viper.SetDefault("giftcodes.user_agent", d.GiftCodes.UserAgent)
	viper.SetDefault("giftcodes.timeout", d.GiftCodes.Timeout)
	viper.SetDefault("giftcodes.cache_ttl", d.GiftCodes.CacheTTL)
	viper.SetDefault("giftcodes.refresh_schedule", d.GiftCodes.RefreshSchedule)

	viper.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", d.API.Listen)
	viper.SetDefault("api.listen_network", d.API.ListenNetwork)
	viper.SetDefault("api.ssl.tls_min_version", d.API.SSL.TLSMinVersion)
	viper.SetDefault("api.read_timeout", d.API.ReadTimeout)
	viper.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", d.API.WriteTimeout)
	viper.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	viper.SetDefault("api.cors.allow_headers", d.API.CORS.AllowHeaders)
	viper.SetDefault("api.cors.allow_methods", d.API.CORS.AllowMethods)
	viper.SetDefault("api.cors.expose_headers", d.API.CORS.ExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", d.API.CORS.AllowOrigins)
	viper.SetDefault("api.cors.max_age", d.API.CORS.MaxAge)
	viper.SetDefault("api.cors.allow_credentials", d.API.CORS.AllowCredentials)

	for key, lvl := range levelVars(d) {
		viper.SetDefault(key, lvl.Level().String())
	}
}

// levelVars maps each log level setting to its value in c
func levelVars(c *angel.Config) map[string]*slog.LevelVar {
	return map[string]*slog.LevelVar{
		"log_level":                   c.LogLevel,
		"database_log_level":          c.DatabaseLogLevel,
		"discord.log_level":           c.Discord.LogLevel,
		"discord.discordgo_log_level": c.Discord.DiscordGoLogLevel,
		"openai.log_level":            c.OpenAI.LogLevel,
		"images.log_level":            c.Images.LogLevel,
		"giftcodes.log_level":         c.GiftCodes.LogLevel,
		"scheduler.log_level":         c.Scheduler.LogLevel,
		"api.log_level":               c.API.LogLevel,
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Environment file to load",
	)
}
