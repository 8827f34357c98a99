package angel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pprofPrefix               = "/debug"
	apiPrefix                 = "/api"
	apiHealthCheck            = "/healthz"
	apiPathReminders          = "/reminders"
	apiPathReminder           = "/reminders/:id"
	apiPathReminderDeliveries = "/reminders/:id/deliveries"
	apiPathSchedulerTick      = "/scheduler/tick"
	apiPathGiftCodes          = "/giftcodes"
	apiPathGiftCodesRefresh   = "/giftcodes/refresh"
	apiPathRegisterCommands   = "/discord/commands"
	apiPathUser               = "/users/:id"
	apiPathUserHistory        = "/users/:id/history"

	xRequestIDHeader = "X-Request-ID"
	basicAuthRealm   = "angel"
	ginBaseLoggerKey = "base_logger"

	columnAdminCredentialUsername = "username"
)

var (
	structValidator = validator.New()

	errUnauthorized = errors.New("unauthorized")
)

// AdminCredential is a login for the admin API. Passwords are stored
// as argon2id hashes.
type AdminCredential struct {
	ModelUintID
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	ModelUnixTime
}

// SetAdminCredential creates or replaces the password for username
func SetAdminCredential(ctx context.Context, db DBI, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	return db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: columnAdminCredentialUsername}},
					DoUpdates: clause.AssignmentColumns([]string{"password_hash", "updated_at"}),
				},
			).Create(&AdminCredential{Username: username, PasswordHash: hash}).Error
		},
	)
}

// checkAdminCredential returns nil when username/password match a
// stored credential
func checkAdminCredential(ctx context.Context, db *gorm.DB, username, password string) error {
	var cred AdminCredential
	err := db.WithContext(ctx).
		Where(columnAdminCredentialUsername+" = ?", username).
		Take(&cred).Error
	if err != nil {
		if isRecordNotFound(err) {
			return errUnauthorized
		}
		return err
	}
	ok, err := verifyPassword(cred.PasswordHash, password)
	if err != nil {
		return err
	}
	if !ok {
		return errUnauthorized
	}
	return nil
}

type httpError struct {
	Error string `json:"error"`
}

type httpReply struct {
	Message string `json:"message"`
}

type healthCheckResponse struct {
	DiscordConnected bool       `json:"discord_connected"`
	SchedulerState   string     `json:"scheduler_state"`
	LastTick         *time.Time `json:"last_tick,omitempty"`
}

// API is the optional admin HTTP server. Everything except the health
// check requires HTTP basic auth against the admin_credential table.
type API struct {
	config      *APIConfig
	httpServer  *http.Server
	listener    net.Listener
	engine      *gin.Engine
	authLimiter *rate.Limiter
	logger      *slog.Logger

	handlers *APIHandlers
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config:      config,
		engine:      r,
		authLimiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:      newComponentLogger(config.LogLevel, "api"),
		handlers:    &APIHandlers{bot: b},
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Cert != "" {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(apiCORSConfig(config)),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)
	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(basicAuthMiddleware(b, api.authLimiter))

	protected.GET(apiPathReminders, api.handlers.listReminders)
	protected.GET(apiPathReminder, api.handlers.getReminder)
	protected.DELETE(apiPathReminder, api.handlers.deleteReminder)
	protected.GET(apiPathReminderDeliveries, api.handlers.reminderDeliveries)
	protected.POST(apiPathSchedulerTick, api.handlers.schedulerTick)
	protected.GET(apiPathGiftCodes, api.handlers.giftCodes)
	protected.POST(apiPathGiftCodesRefresh, api.handlers.refreshGiftCodes)
	protected.POST(apiPathRegisterCommands, api.handlers.discordRegisterCommands)
	protected.GET(apiPathUser, api.handlers.getUser)
	protected.DELETE(apiPathUserHistory, api.handlers.clearUserHistory)

	return api, nil
}

// Serve listens on the configured address until the server is shut
// down. TLS is used when a certificate is configured.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	if a.httpServer.TLSConfig != nil {
		a.listener = tls.NewListener(a.listener, a.httpServer.TLSConfig)
	}
	a.logger.InfoContext(
		ctx,
		"admin API listening",
		"addr", a.listener.Addr().String(),
		"tls", a.httpServer.TLSConfig != nil,
	)
	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// APIHandlers holds the admin API's route handlers
type APIHandlers struct {
	bot *Bot
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordConnected: h.bot.discord.Connected(),
		SchedulerState:   h.bot.scheduler.State().String(),
	}
	if last := h.bot.scheduler.LastTick(); !last.IsZero() {
		resp.LastTick = &last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) listReminders(c *gin.Context) {
	var filter ReminderFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	reminders, err := h.bot.reminders.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error listing reminders")
		return
	}
	if reminders == nil {
		reminders = []Reminder{}
	}
	c.JSON(http.StatusOK, reminders)
}

func reminderIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid reminder id"})
		return 0, false
	}
	return uint(id), true
}

func (h *APIHandlers) getReminder(c *gin.Context) {
	id, ok := reminderIDParam(c)
	if !ok {
		return
	}
	r, err := h.bot.reminders.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, ErrReminderNotFound):
		c.JSON(http.StatusNotFound, httpError{Error: err.Error()})
	case err != nil:
		_ = c.Error(err)
		ginReplyError(c, "error getting reminder")
	default:
		c.JSON(http.StatusOK, r)
	}
}

func (h *APIHandlers) deleteReminder(c *gin.Context) {
	id, ok := reminderIDParam(c)
	if !ok {
		return
	}
	err := h.bot.reminders.Delete(c.Request.Context(), id, "")
	switch {
	case errors.Is(err, ErrReminderNotFound):
		c.JSON(http.StatusNotFound, httpError{Error: err.Error()})
	case err != nil:
		_ = c.Error(err)
		ginReplyError(c, "error deleting reminder")
	default:
		ginReplyMessage(c, fmt.Sprintf("reminder %d deleted", id))
	}
}

func (h *APIHandlers) getUser(c *gin.Context) {
	u, err := h.bot.users.Get(c.Request.Context(), c.Param("id"))
	switch {
	case isRecordNotFound(err):
		c.JSON(http.StatusNotFound, httpError{Error: "user not found"})
	case err != nil:
		_ = c.Error(err)
		ginReplyError(c, "error getting user")
	default:
		c.JSON(http.StatusOK, u)
	}
}

// clearUserHistory drops a user's /ask history, so their next question
// starts a fresh conversation
func (h *APIHandlers) clearUserHistory(c *gin.Context) {
	userID := c.Param("id")
	deleted, err := h.bot.chats.Clear(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error clearing history")
		return
	}
	ginReplyMessage(c, fmt.Sprintf("deleted %d messages for user %s", deleted, userID))
}

func (h *APIHandlers) reminderDeliveries(c *gin.Context) {
	id, ok := reminderIDParam(c)
	if !ok {
		return
	}
	deliveries, err := h.bot.reminders.Deliveries(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []ReminderDelivery{}
	}
	c.JSON(http.StatusOK, deliveries)
}

// schedulerTick runs a tick immediately, outside the regular interval
func (h *APIHandlers) schedulerTick(c *gin.Context) {
	result, err := h.bot.scheduler.Tick(c.Request.Context(), h.bot.now())
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error running scheduler tick")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandlers) giftCodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.bot.giftCodes.Active(c.Request.Context()))
}

func (h *APIHandlers) refreshGiftCodes(c *gin.Context) {
	h.bot.giftCodes.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, h.bot.giftCodes.Active(c.Request.Context()))
}

func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	created, err := h.bot.discord.registerCommands(discordgo.WithContext(c.Request.Context()))
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// basicAuthMiddleware checks HTTP basic auth credentials against the
// admin_credential table. Password checks are rate limited, since each
// one is an argon2 hash.
func basicAuthMiddleware(b *Bot, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", basicAuthRealm))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
			return
		}

		err := checkAdminCredential(c.Request.Context(), b.db, username, password)
		switch {
		case errors.Is(err, errUnauthorized):
			logger.Warn("invalid login attempt", "username", username)
			c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", basicAuthRealm))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		case err != nil:
			logger.Error("error checking credentials", tint.Err(err))
			ginReplyError(c, "internal server error")
			return
		}
		c.Set(string(loggerContextKey), logger.With("admin", username))
		c.Next()
	}
}

// requestIDMiddleware tags each request with a UUID, returned in the
// X-Request-ID response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in the gin context,
// creating (and storing) one with the request's details if needed.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestLogger := slog.Default()
	if base, ok := c.Get(ginBaseLoggerKey); ok {
		if l, ok := base.(*slog.Logger); ok {
			requestLogger = l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with any
// errors attached via c.Error
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(ginBaseLoggerKey, logger)
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// apiCORSConfig builds the CORS middleware config. A "*" origin means
// every origin is allowed, and no origins at all means only the API's
// own address (or anything, in development mode).
func apiCORSConfig(config *APIConfig) cors.Config {
	corsConfig := config.CORS.GINConfig()
	if slices.Contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	if len(corsConfig.AllowOrigins) == 0 && !corsConfig.AllowAllOrigins {
		corsConfig.AllowAllOrigins = config.Development
		if !config.Development {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen}
		}
	}
	if corsConfig.AllowAllOrigins {
		// browsers reject credentials with a wildcard origin
		corsConfig.AllowCredentials = false
	}
	return corsConfig
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // validator tag name must be set before use
func init() {
	structValidator.SetTagName("binding")
}
