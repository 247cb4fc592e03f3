package chanops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ChanOps is the top-level bot. It owns the database handle, the
// Discord session, the alarm scheduler and the API server, and routes
// gateway events to the plugin dispatcher and command handlers.
type ChanOps struct {
	config     *Config
	db         *gorm.DB
	store      DataStore
	discord    *Discord
	alarms     *AlarmScheduler
	api        *http.Server
	logger     *slog.Logger
	logHandler slog.Handler

	// paused rejects new interactions while set, for maintenance via
	// the admin API
	paused atomic.Bool

	// pendingComponents holds in-flight message component handlers
	// (currently only the alarm cancel select), keyed by custom ID.
	// Entries expire on a timer; a restart drops them.
	pendingComponents   map[string]*pendingComponent
	pendingComponentsMu sync.Mutex

	eventHandlersRegistered atomic.Bool
}

type pendingComponent struct {
	userID  string
	handler func(context.Context, *discordgo.InteractionCreate) error
	timer   *time.Timer
}

// New validates the given config and assembles an unstarted bot.
func New(config *Config) (*ChanOps, error) {
	if config == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logHandler := tint.NewHandler(
		os.Stdout,
		&tint.Options{Level: config.LogLevel, AddSource: true},
	)
	logger := slog.New(logHandler).With(loggerNameKey, "chanops")

	bot := &ChanOps{
		config:            config,
		logger:            logger,
		logHandler:        logHandler,
		pendingComponents: map[string]*pendingComponent{},
	}

	config.Discord.httpClient = config.HTTPClient

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: config.Discord.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "discord")
	discord.bot = bot
	bot.discord = discord

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			os.Stdout,
			&tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	session, err := discord.newSession()
	if err != nil {
		return nil, err
	}
	discord.session = session

	return bot, nil
}

// structValidator validates config structs via their `binding` tags.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

// Run starts the bot and blocks until ctx is cancelled, then shuts
// down gracefully within [Config.ShutdownTimeout]. Startup must finish
// within [Config.StartupTimeout].
func (c *ChanOps) Run(ctx context.Context) error {
	startupCtx, startupCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startupCancel()

	db, err := CreateDB(startupCtx, c.config.DatabaseType, c.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.db = db

	if c.config.DatabaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return fmt.Errorf("error getting database connection: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(startupCtx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	c.store = NewDataStore(
		db,
		slog.New(c.logHandler),
		c.config.DatabaseType == dbTypePostgres,
	)
	c.alarms = NewAlarmScheduler(c.store, c.discord, slog.New(c.logHandler))

	c.registerEventHandlers()

	if err = c.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	c.logger.InfoContext(startupCtx, "discord session open")

	if _, err = c.discord.registerCommands(
		discordgo.WithContext(startupCtx),
	); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	// pending alarms survive in the database, not in timers
	if err = c.alarms.Restore(startupCtx); err != nil {
		c.logger.ErrorContext(startupCtx, "alarm restore failed", tint.Err(err))
	}

	g, runCtx := errgroup.WithContext(ctx)
	if c.config.API.Enabled {
		c.api = c.newAPIServer()
		g.Go(
			func() error {
				serveErr := c.serveAPI(runCtx)
				if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					return fmt.Errorf("api server: %w", serveErr)
				}
				return nil
			},
		)
	}

	c.logger.InfoContext(ctx, "started", "config", structToSlogValue(c.config))
	<-runCtx.Done()
	shutdownErr := c.shutdown()
	if err = g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

func (c *ChanOps) registerEventHandlers() {
	if !c.eventHandlersRegistered.CompareAndSwap(false, true) {
		return
	}
	session := c.discord.session
	c.discord.discordgoRemoveHandlerFuncs = append(
		c.discord.discordgoRemoveHandlerFuncs,
		session.AddHandler(c.discord.handlerReady()),
		session.AddHandler(c.discord.handlerConnect()),
		session.AddHandler(c.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				c.handleMessageCreate(context.Background(), m)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
				c.handleMessageUpdate(context.Background(), m)
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				c.handleInteraction(context.Background(), i)
			},
		),
	)
}

func (c *ChanOps) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), c.config.ShutdownTimeout,
	)
	defer cancel()
	c.logger.Info("shutting down")

	c.alarms.Stop()
	for _, removeHandler := range c.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if err := c.discord.session.Close(); err != nil {
		c.logger.Error("error closing discord session", tint.Err(err))
	}
	if c.api != nil {
		if err := c.api.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("error stopping api server", tint.Err(err))
		}
	}
	if sqlDB, err := c.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	c.logger.Info("shutdown complete")
	return nil
}

// Pause makes the bot reject new interactions until Resume is called.
// Message dispatch (rules, statistics, export capture) keeps running.
func (c *ChanOps) Pause() bool {
	return c.paused.CompareAndSwap(false, true)
}

func (c *ChanOps) Resume() bool {
	return c.paused.CompareAndSwap(true, false)
}

func (c *ChanOps) Paused() bool {
	return c.paused.Load()
}

// RegisterSlashCommands pushes the command definitions to Discord
// without opening a gateway connection. Used by the deploy CLI command.
func (c *ChanOps) RegisterSlashCommands(ctx context.Context) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return c.discord.registerCommands(discordgo.WithContext(ctx))
}

// handleInteraction is the top-level error boundary for every
// interaction: autocomplete, message components and slash commands.
// Handler panics and errors are caught here, logged, and reported to
// the invoking user once. A failure to even send that report is
// swallowed.
func (c *ChanOps) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := c.logger.With(interactionLogAttrs(*i)...)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(
				ctx,
				"panic in interaction handler",
				"recovered", r,
				"stack", string(debug.Stack()),
			)
			c.reportCommandError(ctx, i)
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		c.handleAutocomplete(ctx, i)
	case discordgo.InteractionMessageComponent:
		c.handleComponent(ctx, logger, i)
	case discordgo.InteractionApplicationCommand:
		c.handleCommand(ctx, logger, i)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (c *ChanOps) handleCommand(
	ctx context.Context,
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	if c.paused.Load() {
		_ = c.respondText(
			ctx, i,
			":tools:  Temporarily unavailable, try again later",
			true,
		)
		return
	}

	user := getDiscordUser(i)
	if user == nil {
		logger.WarnContext(ctx, "interaction with no user")
		return
	}
	c.touchUser(ctx, logger, user.ID)

	name := i.ApplicationCommandData().Name
	logger.InfoContext(ctx, "Received command", "command", name)

	var err error
	switch name {
	case DiscordSlashCommandPlugins:
		err = c.handleCommandPlugins(ctx, i)
	case DiscordSlashCommandRules:
		err = c.handleCommandRules(ctx, i)
	case DiscordSlashCommandStatistics:
		err = c.handleCommandStatistics(ctx, i)
	case DiscordSlashCommandExport:
		err = c.handleCommandExport(ctx, i)
	case DiscordSlashCommandAlarms:
		err = c.handleCommandAlarms(ctx, i)
	case DiscordSlashCommandFlip:
		err = c.handleCommandFlip(ctx, i)
	case DiscordSlashCommandPing:
		err = c.handleCommandPing(ctx, i)
	default:
		logger.WarnContext(ctx, "unknown command", "command", name)
		return
	}
	if err != nil {
		logger.ErrorContext(
			ctx, "command failed", tint.Err(err), "command", name,
		)
		c.reportCommandError(ctx, i)
	}
}

func (c *ChanOps) handleAutocomplete(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	switch i.ApplicationCommandData().Name {
	case DiscordSlashCommandPlugins:
		c.autocompletePlugins(ctx, i)
	case DiscordSlashCommandRules:
		c.autocompleteRules(ctx, i)
	default:
		c.respondChoices(ctx, i, nil)
	}
}

func (c *ChanOps) handleComponent(
	ctx context.Context,
	logger *slog.Logger,
	i *discordgo.InteractionCreate,
) {
	customID := i.MessageComponentData().CustomID
	pending := c.takeComponent(customID)
	if pending == nil {
		// expired, or from before a restart
		_ = c.respondText(
			ctx, i, ":warning:  This prompt has expired", true,
		)
		return
	}
	if user := getDiscordUser(i); user == nil || user.ID != pending.userID {
		return
	}
	if err := pending.handler(ctx, i); err != nil {
		logger.ErrorContext(
			ctx,
			"component handler failed",
			tint.Err(err),
			"custom_id", customID,
		)
		c.reportCommandError(ctx, i)
	}
}

// registerComponent parks a handler for a message component until it's
// used or [AlarmCancelTimeout] elapses, whichever comes first. onExpire
// runs only on timeout.
func (c *ChanOps) registerComponent(
	customID string,
	userID string,
	handler func(context.Context, *discordgo.InteractionCreate) error,
	onExpire func(),
) {
	c.pendingComponentsMu.Lock()
	defer c.pendingComponentsMu.Unlock()
	c.pendingComponents[customID] = &pendingComponent{
		userID:  userID,
		handler: handler,
		timer: time.AfterFunc(
			AlarmCancelTimeout, func() {
				c.pendingComponentsMu.Lock()
				_, present := c.pendingComponents[customID]
				delete(c.pendingComponents, customID)
				c.pendingComponentsMu.Unlock()
				if present && onExpire != nil {
					onExpire()
				}
			},
		),
	}
}

func (c *ChanOps) takeComponent(customID string) *pendingComponent {
	c.pendingComponentsMu.Lock()
	defer c.pendingComponentsMu.Unlock()
	pending := c.pendingComponents[customID]
	if pending != nil {
		delete(c.pendingComponents, customID)
		pending.timer.Stop()
	}
	return pending
}

// reportCommandError tells the invoking user their command failed. If
// the interaction was already acknowledged the initial response is
// edited instead. Both attempts failing is swallowed.
func (c *ChanOps) reportCommandError(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	err := c.respondText(ctx, i, DefaultDiscordErrorMessage, true)
	if err == nil {
		return
	}
	content := DefaultDiscordErrorMessage
	_, _ = c.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
		discordgo.WithContext(ctx),
	)
}
