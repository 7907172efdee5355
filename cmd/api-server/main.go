package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rachcampitos/histora-sub001/internal/api"
	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/clinic"
	"github.com/rachcampitos/histora-sub001/internal/config"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/db"
	"github.com/rachcampitos/histora-sub001/internal/logging"
	redisclient "github.com/rachcampitos/histora-sub001/internal/redis"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "api-server")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	hours, err := schedule.ParseWorkingHours(cfg.ClinicOpen, cfg.ClinicClose)
	if err != nil {
		logger.Fatal("invalid working hours", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.Options{MaxConns: int32(cfg.PgMaxConns)})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	locker := redisclient.NewRedisBookingLocker(rdb, cfg.LockTTL)

	apptSvc := appointment.NewService(appointment.NewPgRepository(pgPool), locker, logger)
	consultSvc := consultation.NewService(consultation.NewPgRepository(pgPool), logger)
	facade := clinic.NewFacade(apptSvc, consultSvc, hours, cfg.SlotMinutes, logger)

	router := api.NewRouter(api.RouterConfig{
		Facade:        facade,
		Appointments:  apptSvc,
		Consultations: consultSvc,
		PgPool:        pgPool,
		Redis:         rdb,
		Log:           logger,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
