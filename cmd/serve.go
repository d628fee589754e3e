package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/cocoa-roast-scan/internal/auth"
	"github.com/example/cocoa-roast-scan/internal/cascade"
	"github.com/example/cocoa-roast-scan/internal/config"
	"github.com/example/cocoa-roast-scan/internal/events"
	"github.com/example/cocoa-roast-scan/internal/handlers"
	"github.com/example/cocoa-roast-scan/internal/repository"
	"github.com/example/cocoa-roast-scan/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewScanRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient, err := initRedis(redisCtx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	pipeline, err := cascade.Build(ctx, cfg.Pipeline, logger)
	if err != nil {
		return fmt.Errorf("build cascade: %w", err)
	}
	defer func() {
		if err := pipeline.Shutdown(); err != nil {
			logger.Warn("cascade shutdown", zap.Error(err))
		}
	}()

	publisher, err := initPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewScanUseCase(repo, cache, pipeline, publisher, cfg.Pipeline.MaxConcurrentScans, logger,
		usecase.WithMaxPixels(cfg.Pipeline.MaxPixels))

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	limiter := handlers.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handlers.RegisterRoutes(r, uc, logger, authMiddleware, limiter.Middleware())

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("cocoa roast scan API listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Any("models", uc.Availability()))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}

	zapLogger.Info("database connected")
	return db, nil
}

func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}

func initPublisher(cfg config.NATSConfig, logger *zap.Logger) (events.Publisher, error) {
	if cfg.URL == "" {
		logger.Info("NATS_URL not set, scan events disabled")
		return events.Nop{}, nil
	}
	publisher, err := events.Connect(cfg.URL, cfg.Subject, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return publisher, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

// serveHTTPServerWithOptions serves until the server fails or a signal
// arrives, then drains in-flight requests for up to shutdownTimeout. A nil
// listener uses server.Addr; a nil signalCh listens for SIGINT and SIGTERM.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
