package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roombus/roombus-server/internal/api"
	"github.com/roombus/roombus-server/internal/config"
	"github.com/roombus/roombus-server/internal/credential"
	"github.com/roombus/roombus-server/internal/httputil"
	"github.com/roombus/roombus-server/internal/kv"
	"github.com/roombus/roombus-server/internal/logstore"
	"github.com/roombus/roombus-server/internal/postgres"
	"github.com/roombus/roombus-server/internal/room"
	"github.com/roombus/roombus-server/internal/usage"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

// server holds the shared dependencies used by route handlers and middleware.
type server struct {
	cfg      *config.Config
	db       *pgxpool.Pool
	rdb      *redis.Client
	registry *room.Registry
	creds    *credential.Service
	usage    *usage.Counter
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("env", cfg.ServerEnv).
		Msg("Starting roombus")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := kv.Connect(ctx, cfg.StoreURL, cfg.StoreDialTimeout)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Store connected")

	credRepo := credential.NewPGRepository(db, log.Logger)
	credService := credential.NewService(credRepo, log.Logger)

	logs := logstore.New(rdb, cfg.MaxLogsPerHour, cfg.LogRetention)
	usageCounter := usage.New(rdb)

	registry := room.NewRegistry(logs, usageCounter, room.Options{
		RequestTimeout:   cfg.RequestTimeout,
		IdleDelay:        cfg.IdleAlarmDelay,
		AdminReplayLimit: cfg.AdminReplayLimit,
	}, log.Logger)

	app := fiber.New(fiber.Config{
		AppName: "roombus",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = fiberStatusToCode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: code, Message: message},
			})
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin", "Upgrade", "Connection", "Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Extensions", "Sec-WebSocket-Protocol"},
		MaxAge:        86400,
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	srv := &server{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		registry: registry,
		creds:    credService,
		usage:    usageCounter,
	}
	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		registry.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	healthHandler := api.NewHealthHandler(s.rdb, s.registry, s.creds, s.cfg)
	app.Get("/health", healthHandler.Health)
	app.Get("/status", healthHandler.Status)

	usageHandler := api.NewUsageHandler(s.usage)
	app.Get("/usage", usageHandler.Report)

	keysHandler := api.NewApiKeysHandler(s.creds)
	keysGroup := app.Group("/api-keys", httputil.RequireServiceKey(s.cfg.ServiceKey))
	keysGroup.Post("/", keysHandler.Create)
	keysGroup.Get("/", keysHandler.List)
	keysGroup.Get("/:projectId", keysHandler.Get)
	keysGroup.Delete("/:projectId", keysHandler.Revoke)

	wsHandler := api.NewWebSocketHandler(s.registry, s.creds, s.cfg)
	app.Get("/websocket", wsHandler.Upgrade)

	// Catch-all: Fiber v3 treats app.Use() middleware as route matches, so without a terminal handler the router
	// considers unmatched requests "handled" and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// fiberStatusToCode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest local
// error code.
func fiberStatusToCode(status int) httputil.ErrorCode {
	switch status {
	case fiber.StatusNotFound:
		return httputil.CodeNotFound
	case fiber.StatusMethodNotAllowed:
		return httputil.CodeBadRequest
	case fiber.StatusTooManyRequests:
		return httputil.CodeForbidden
	case fiber.StatusServiceUnavailable:
		return httputil.CodeInternal
	default:
		if status >= 400 && status < 500 {
			return httputil.CodeBadRequest
		}
		return httputil.CodeInternal
	}
}
