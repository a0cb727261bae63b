package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/deckconvert/internal/async"
	"github.com/joseph-ayodele/deckconvert/internal/common"
	"github.com/joseph-ayodele/deckconvert/internal/converter"
	"github.com/joseph-ayodele/deckconvert/internal/core"
	"github.com/joseph-ayodele/deckconvert/internal/export"
	"github.com/joseph-ayodele/deckconvert/internal/repository"
	"github.com/joseph-ayodele/deckconvert/internal/server"
	"github.com/joseph-ayodele/deckconvert/internal/storage"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := cfg.ValidateServer(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	// Logger
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zlog, err := zcfg.Build()
	if err != nil {
		slog.Error("build logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = zlog.Sync() }()
	log := zlog.Sugar()

	// Worker-side packages log through slog.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatalw("open database", "driver", cfg.Database.Driver, "error", err)
	}
	defer db.Close(logger)

	// Healthcheck DB on startup
	if err := db.HealthCheck(ctx, 5*time.Second); err != nil {
		log.Fatalw("DB health failed", "error", err)
	}
	log.Infow("DB health OK", "driver", cfg.Database.Driver)

	store, err := storage.New(ctx, cfg.Storage, cfg.Server.PublicURL, logger)
	if err != nil {
		log.Fatalw("open storage", "driver", cfg.Storage.Driver, "error", err)
	}
	conv, err := converter.New(cfg.Converter, logger)
	if err != nil {
		log.Fatalw("build converter", "driver", cfg.Converter.Driver, "error", err)
	}

	jobsRepo := repository.NewConversionJobRepository(db, logger)
	processor := core.NewProcessor(logger, jobsRepo, store, conv)

	queueOpts := []async.Option{
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.TaskTimeLimit),
	}
	var queue async.Queue
	switch cfg.Queue.Driver {
	case "redis":
		rdb, err := async.NewRedisClient(ctx, cfg.Queue.RedisURL)
		if err != nil {
			log.Fatalw("connect redis", "error", err)
		}
		defer func() { _ = rdb.Close() }()
		queue, err = async.NewRedisQueue(ctx, rdb, cfg.Queue.RedisKey, processor, logger, queueOpts...)
		if err != nil {
			log.Fatalw("start redis queue", "key", cfg.Queue.RedisKey, "error", err)
		}
	default:
		queue = async.NewProcessorQueue(processor, logger, queueOpts...)
		// Jobs accepted by a previous process died with its in-memory queue.
		go func() {
			if _, err := core.RequeueUnfinished(ctx, jobsRepo, queue, logger); err != nil {
				log.Errorw("requeue unfinished jobs", "error", err)
			}
		}()
	}
	log.Infow("workers started",
		"queue", cfg.Queue.Driver,
		"workers", cfg.Queue.Workers,
		"converter", conv.Name(),
		"task_time_limit", cfg.Queue.TaskTimeLimit,
	)

	api := server.NewConversionService(
		jobsRepo,
		store,
		queue,
		export.NewService(jobsRepo, logger),
		db,
		server.Options{
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			CORSOrigins:    cfg.Server.CORSOrigins,
		},
		zlog,
	)
	defer api.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("HTTP serving on %s", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http serve", "error", err)
			stop()
		}
	}()

	// gRPC health for orchestrators
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// Reflection for grpcurl
	reflection.Register(grpcServer)
	if addr := cfg.Server.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalw("listen", "addr", addr, "error", err)
		}
		go func() {
			log.Infof("gRPC health serving on %s", addr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Errorw("grpc serve", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down...")
	hs.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	// Let in-flight conversions finish, bounded by the task time limit.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Queue.TaskTimeLimit)
	defer cancelDrain()
	queue.Shutdown(drainCtx)
	grpcServer.GracefulStop()
	log.Info("stopped.")
}

func slogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
