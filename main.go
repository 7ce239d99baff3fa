package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/kidney-seg/internal/auth"
	"github.com/example/kidney-seg/internal/config"
	"github.com/example/kidney-seg/internal/engine"
	"github.com/example/kidney-seg/internal/handlers"
	"github.com/example/kidney-seg/internal/logging"
	"github.com/example/kidney-seg/internal/pipeline"
	"github.com/example/kidney-seg/internal/repository"
	"github.com/example/kidney-seg/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	var repo usecase.ProcessingRepository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		processingRepo := repository.NewProcessingRepository(db, logger)
		if err := processingRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = processingRepo
	} else {
		logger.Warn("DATABASE_DSN not set, processing logs are disabled")
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	} else {
		logger.Warn("REDIS_ADDR not set, result caching is disabled")
	}

	eng := loadEngine(cfg.ModelPath, logger)
	if eng != nil {
		defer eng.Close() //nolint:errcheck
	}

	pipe := pipeline.NewFramePipeline(eng, logger)
	uc := usecase.NewSegmentationUseCase(repo, cache, pipe, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	var authMiddleware gin.HandlerFunc
	if cfg.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	} else {
		logger.Warn("JWT_SECRET not set, API runs without authentication")
	}

	handlers.RegisterRoutes(r, uc, pipe, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	logger.Info("kidney segmentation API listening",
		zap.String("addr", server.Addr),
		zap.Bool("model_loaded", pipe.Ready()))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// loadEngine prepares the ONNX session. A missing model file starts the
// service in degraded mode (health reports model_loaded=false); any other
// load failure is fatal.
func loadEngine(modelPath string, logger *zap.Logger) engine.Engine {
	if _, err := os.Stat(modelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("model file not found, starting without inference",
				zap.String("model_path", modelPath))
			return nil
		}
		logger.Fatal("failed to stat model file", zap.String("model_path", modelPath), zap.Error(err))
	}

	inputShape := []int64{1, 3, pipeline.InputHeight, pipeline.InputWidth}
	outputShape := []int64{1, 1, pipeline.InputHeight, pipeline.InputWidth}
	eng, err := engine.NewONNXEngine(modelPath, inputShape, outputShape)
	if err != nil {
		logger.Fatal("failed to load model", zap.String("model_path", modelPath), zap.Error(err))
	}

	logger.Info("model loaded", zap.String("model_path", modelPath))
	return eng
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

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

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

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
