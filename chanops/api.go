package chanops

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// newAPIServer builds the admin API: a small read-mostly surface for
// inspecting persisted records and pausing the command surface during
// maintenance. Everything except the health endpoint requires the
// bearer token set by the `init` CLI command.
func (c *ChanOps) newAPIServer() *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	apiLogger := slog.New(c.logHandler).With(loggerNameKey, "api")
	router.Use(gin.Recovery(), apiRequestLogger(apiLogger))

	if len(c.config.API.CORSAllowOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = c.config.API.CORSAllowOrigins
		corsConfig.AllowHeaders = append(
			corsConfig.AllowHeaders, "Authorization",
		)
		router.Use(cors.New(corsConfig))
	}

	router.GET(
		"/health", func(ctx *gin.Context) {
			ctx.JSON(
				http.StatusOK, gin.H{
					"connected":   c.discord.connected.Load(),
					"paused":      c.paused.Load(),
					"connects":    c.discord.metricConnects.Load(),
					"disconnects": c.discord.metricDisconnects.Load(),
				},
			)
		},
	)

	api := router.Group("/api", c.apiAuth(apiLogger))
	api.GET("/guilds/:id", c.apiGetGuild)
	api.GET("/users/:id", c.apiGetUser)
	api.GET("/discord/gateway/bot", c.apiGetGatewayBot)
	api.POST("/pause", c.apiPause)
	api.POST("/resume", c.apiResume)

	return &http.Server{
		Addr:              c.config.API.Listen,
		Handler:           router,
		ReadTimeout:       c.config.API.ReadTimeout,
		ReadHeaderTimeout: c.config.API.ReadHeaderTimeout,
		WriteTimeout:      c.config.API.WriteTimeout,
		IdleTimeout:       c.config.API.IdleTimeout,
	}
}

func (c *ChanOps) serveAPI(ctx context.Context) error {
	listener, err := net.Listen(
		c.config.API.ListenNetwork, c.config.API.Listen,
	)
	if err != nil {
		return err
	}
	c.logger.InfoContext(
		ctx, "api server listening", "listen", c.config.API.Listen,
	)
	return c.api.Serve(listener)
}

func apiRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		logger.Info(
			"request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", ctx.Writer.Status(),
		)
	}
}

// apiAuth verifies the request's bearer token against the stored
// argon2 hash. No token in the database means the API is locked until
// `init` is run.
func (c *ChanOps) apiAuth(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := strings.CutPrefix(
			ctx.GetHeader("Authorization"), "Bearer ",
		)
		if !ok || token == "" {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		hash, err := c.store.AdminTokenHash(ctx.Request.Context())
		if err != nil {
			logger.Error("error reading admin token hash", tint.Err(err))
			ctx.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if hash == "" {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		valid, err := verifyPassword(hash, token)
		if err != nil || !valid {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		ctx.Next()
	}
}

func (c *ChanOps) apiGetGuild(ctx *gin.Context) {
	guild, err := c.store.GuildData(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		_ = ctx.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if guild == nil {
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}
	ctx.JSON(http.StatusOK, guild)
}

func (c *ChanOps) apiGetUser(ctx *gin.Context) {
	user, err := c.store.UserData(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		_ = ctx.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		ctx.AbortWithStatus(http.StatusNotFound)
		return
	}
	ctx.JSON(http.StatusOK, user)
}

func (c *ChanOps) apiGetGatewayBot(ctx *gin.Context) {
	gb, err := c.discord.session.GatewayBot(
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	)
	if err != nil {
		_ = ctx.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	ctx.JSON(http.StatusOK, gb)
}

func (c *ChanOps) apiPause(ctx *gin.Context) {
	changed := c.Pause()
	ctx.JSON(http.StatusOK, gin.H{"paused": true, "changed": changed})
}

func (c *ChanOps) apiResume(ctx *gin.Context) {
	changed := c.Resume()
	ctx.JSON(http.StatusOK, gin.H{"paused": false, "changed": changed})
}
