package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ChatStream/controllers"
	"ChatStream/middleware"
	"ChatStream/models"
	"ChatStream/pkg/cache"
	"ChatStream/pkg/chat"
	"ChatStream/pkg/config"
	"ChatStream/pkg/lock"
	"ChatStream/pkg/services"
	"ChatStream/pkg/store"
	tokenstore "ChatStream/pkg/token"
	"ChatStream/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	root := &cobra.Command{
		Use:           "chatstream",
		Short:         "Streaming chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				_, err = openDB(cfg)
				return err
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("chatstream exited")
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !cfg.IsProduction {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(cfg)
	cfg.LogSummary()
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := store.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("database migrated")
	return db, nil
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	var history store.Store = store.NewGormStore(db)
	if cfg.HistoryBackend == "pgx" {
		pool, err := store.ConnectPool(ctx, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		history = store.NewPgStore(pool)
		log.Info().Msg("history store: pgx")
	}

	var (
		locker  lock.Locker      = lock.NewLocal()
		revoked tokenstore.Store = tokenstore.NewMemory()
		rdb     *redis.Client
	)
	if cfg.RedisURL != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.GenerationTimeout+30*time.Second)
		revoked = tokenstore.NewRedis(rdb)
		log.Info().Msg("redis: conversation locks and token revocation enabled")
	}

	gen, err := services.NewGenerator(cfg)
	if err != nil {
		return err
	}
	titles := cache.New(cfg.TitleCacheMaxItems, time.Duration(cfg.TitleCacheTTLSeconds)*time.Second)
	defer titles.Close()

	registry := chat.NewRegistry(history, gen, titles, cfg.TitleTimeout)
	pipeline := chat.NewPipeline(history, registry, gen, locker, chat.Options{
		GenerationTimeout: cfg.GenerationTimeout,
		MaxMessageChars:   cfg.MaxMessageChars,
		MaxHistoryTurns:   cfg.MaxHistoryTurns,
	})

	deps := &controllers.Deps{
		DB:       db,
		Store:    history,
		Registry: registry,
		Pipeline: pipeline,
		Issuer:   tokenstore.NewIssuer(jwtSecret(cfg), 24*time.Hour),
		Revoked:  revoked,
		Guard: middleware.NewGuard(middleware.Limits{
			Window:       time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
			Capacity:     cfg.RateLimitCapacity,
			Concurrency:  cfg.UserConcurrencyLimit,
			DuplicateTTL: time.Duration(cfg.DuplicateWindowSeconds) * time.Second,
		}),
		Avatars: services.NewAvatarStorage(cfg.UploadDir, "/uploads"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-Conversation-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	routes.RegisterRoutes(r, deps, cfg.UploadDir)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// jwtSecret falls back to a fixed development key outside production, where
// config.Load already requires JWT_SECRET_KEY.
func jwtSecret(cfg *config.Config) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	log.Warn().Msg("JWT_SECRET_KEY not set, using development key")
	return "dev-secret-change-me"
}
