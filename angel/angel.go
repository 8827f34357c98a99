package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Magnus-zzz/Whiteout-Survival--Discord-bot/angel.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// shutdownAnnouncementInterval is how often the remaining shutdown time
// is logged while waiting on in-flight work
var shutdownAnnouncementInterval = 10 * time.Second

// Bot is the Angel discord bot. It owns the database, the discord
// session, the reminder scheduler, the gift code cache and the optional
// admin API.
type Bot struct {
	config *Config
	logger *slog.Logger
	now    func() time.Time

	db      *gorm.DB
	writeDB DBI

	discord   *Discord
	openai    *OpenAI
	images    ImageGenerator
	giftCodes *GiftCodeCache
	scheduler *ReminderScheduler
	api       *API

	reminders *ReminderStore
	users     *UserStore
	chats     *ChatStore

	runMu       sync.Mutex
	startedAt   time.Time
	signalReady chan struct{}

	// getInteractionHandlerFunc builds the [InteractionHandler] for each
	// incoming interaction. Tests replace it to capture responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New builds the bot's components from config. Nothing connects until
// [Bot.Run] is called.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		now:         time.Now,
		signalReady: make(chan struct{}, 1),
	}

	b.logger = slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel),
	)

	config.Discord.httpClient = config.HTTPClient
	b.discord = newDiscord(
		config.Discord,
		newComponentLogger(config.Discord.LogLevel, "discord"),
	)

	b.openai = newOpenAI(config.OpenAI, config.HTTPClient)

	imageLogger := newComponentLogger(config.Images.LogLevel, "images")
	b.images = imageChain{
		providers: []ImageGenerator{
			newHuggingFaceImages(config.Images, config.HTTPClient, imageLogger),
			openAIImages{openai: b.openai},
		},
		logger: imageLogger,
	}

	giftCodeLogger := newComponentLogger(config.GiftCodes.LogLevel, "giftcodes")
	b.giftCodes = NewGiftCodeCache(
		NewGiftCodeScraper(config.GiftCodes, giftCodeLogger),
		config.GiftCodes,
		giftCodeLogger,
	)

	if config.API.Enabled {
		api, err := newAPI(b, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		b.api = api
	}

	return b, errors.Join(errs...)
}

// ValidateConfig checks the config's `binding` tags
func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Ready is signaled once Run has finished starting up
func (b *Bot) Ready() <-chan struct{} {
	return b.signalReady
}

// Run connects to the database and discord, registers commands, and
// starts the reminder scheduler (and the admin API, if enabled). It
// blocks until ctx is canceled, then shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// in-flight interactions
	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx, ctx, runtimeWG)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if err := b.startWorkers(ctx, cancel, runtimeWG); err != nil {
		return err
	}
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		b.giftCodes.Refresh(ctx)
	}()

	if b.api != nil {
		go func() {
			if httpErr := b.api.Serve(ctx); httpErr != nil {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
				cancel()
			}
		}()
	}

	select {
	case b.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready", "startup_duration", time.Since(b.startedAt))

	<-ctx.Done()
	return b.shutdown(ctx, runtimeWG)
}

// startWorkers starts the reminder scheduler and the gift code
// refresher. If either fails, the runtime context is canceled and
// whatever already started is shut down.
func (b *Bot) startWorkers(ctx context.Context, cancel context.CancelFunc, runtimeWG *sync.WaitGroup) error {
	if err := b.scheduler.Start(ctx); err != nil {
		cancel()
		return errors.Join(err, b.shutdown(ctx, runtimeWG))
	}
	if err := b.giftCodes.Start(ctx); err != nil {
		cancel()
		return errors.Join(err, b.shutdown(ctx, runtimeWG))
	}
	return nil
}

// initRun opens the database, creates the stores and scheduler, and
// connects to discord
func (b *Bot) initRun(startCtx context.Context, ctx context.Context, runtimeWG *sync.WaitGroup) error {
	if b.db == nil {
		b.logger.Debug("initializing DB...")
		if err := b.initDB(startCtx); err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		b.logger.Debug("finished initializing DB")
	}

	schedulerLogger := newComponentLogger(b.config.Scheduler.LogLevel, "scheduler")
	b.reminders = NewReminderStore(b.writeDB, schedulerLogger)
	b.users = NewUserStore(b.writeDB, b.logger.With(loggerNameKey, "users"))
	b.chats = NewChatStore(b.writeDB)
	b.scheduler = NewReminderScheduler(
		b.reminders,
		b.discord,
		b.config.Scheduler,
		schedulerLogger,
	)
	b.scheduler.now = b.now

	if err := b.initDiscordSession(ctx, runtimeWG); err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}

	b.logger.InfoContext(startCtx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := b.discord.registerCommands(discordgo.WithContext(startCtx)); err != nil {
		return err
	}
	return nil
}

func (b *Bot) initDB(ctx context.Context) error {
	gormLogger := newGORMLogger(
		newLogHandler(b.config.DatabaseLogLevel),
		b.config.DatabaseSlowThreshold,
	)
	db, err := openDB(ctx, b.config.DatabaseType, b.config.Database, gormLogger)
	if err != nil {
		return err
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		b.logger,
		b.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

func (b *Bot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, remove := range b.discord.discordgoRemoveHandlerFuncs {
		remove()
	}

	b.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: b.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	if b.getInteractionHandlerFunc == nil {
		b.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     b.discord.session,
				interaction: i,
				logger: b.discord.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// handleInteraction logs the interaction, then routes it to the
// matching command or autocomplete handler
func (b *Bot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	logger.InfoContext(ctx, "received interaction", "user_id", discordUser.ID)

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else if _, err = b.writeDB.Create(ctx, interactionLog); err != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.handleAutocomplete(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		command, ok := commandHandlers[commandName]
		if !ok {
			logger.WarnContext(ctx, "unknown command", "command", commandName)
			_ = handler.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
			return
		}

		u, _, err := b.users.GetOrCreate(ctx, *discordUser)
		if err != nil {
			logger.ErrorContext(ctx, "error getting user", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(b.config.Discord.ErrorMessage))
			return
		}
		ctx = WithLogger(ctx, logger.With(slog.Group("user", userLogAttrs(*u)...)))
		command(b, ctx, handler, u)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (*Bot) handleRecover(ctx context.Context, rc any) {
	logger := contextLoggerOr(ctx, slog.Default())
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// shutdown stops the scheduler, the gift code refresher and the API, waits
// for in-flight interactions, and closes the discord session. Anything
// still running after ShutdownTimeout is abandoned.
func (b *Bot) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(b.config.ShutdownTimeout)
	b.logger.WarnContext(
		ctx,
		"shutting down",
		"shutdown_timeout", b.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	g, gctx := errgroup.WithContext(closeCtx)
	g.Go(
		func() error {
			return waitDone(gctx, b.scheduler.Stop(), "reminder scheduler")
		},
	)
	g.Go(
		func() error {
			return waitDone(gctx, b.giftCodes.Stop(), "gift code refresher")
		},
	)
	if b.api != nil {
		g.Go(
			func() error {
				b.logger.InfoContext(ctx, "stopping http server")
				return b.api.Shutdown(closeCtx)
			},
		)
	}
	g.Go(
		func() error {
			done := make(chan struct{})
			go func() {
				runtimeWG.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return errors.New("in-flight interactions did not finish in time")
			}
		},
	)

	stopped := make(chan error, 1)
	go func() {
		stopped <- g.Wait()
	}()

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	var err error
waitLoop:
	for {
		select {
		case err = <-stopped:
			break waitLoop
		case <-announcementTicker.C:
			b.logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		}
	}

	if b.discord.session != nil {
		b.logger.InfoContext(ctx, "closing discord session")
		if closeErr := b.discord.session.Close(); closeErr != nil {
			b.logger.ErrorContext(ctx, "error closing discord session", tint.Err(closeErr))
		}
		for _, remove := range b.discord.discordgoRemoveHandlerFuncs {
			remove()
		}
		b.discord.discordgoRemoveHandlerFuncs = nil
	}

	if err != nil {
		b.logger.ErrorContext(ctx, "shutdown did not complete cleanly", tint.Err(err))
		if b.api != nil {
			_ = b.api.httpServer.Close()
		}
		return err
	}
	b.logger.InfoContext(ctx, "shutdown complete", "shutdown_duration", time.Since(shutdownStart))
	return nil
}

// waitDone blocks until done or ctx is finished, whichever is first
func waitDone(ctx context.Context, done context.Context, name string) error {
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s did not stop in time", name)
	}
}
