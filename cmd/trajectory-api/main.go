package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/geo"
	"github.com/flybeeper/trajectory-backend/internal/handler"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/mqtt"
	"github.com/flybeeper/trajectory-backend/internal/repository"
	"github.com/flybeeper/trajectory-backend/internal/service"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

var (
	// Version устанавливается при сборке через ldflags
	Version = "dev"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	utils.SetDefaultLogger(logger)
	logger.WithField("version", Version).Info("Starting Trajectory Backend")

	// Контекст приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL: историческое хранилище записей точек
	mysqlRepo, err := repository.NewMySQLRepository(&cfg.MySQL, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize MySQL repository")
	}
	defer mysqlRepo.Close()

	if err := mysqlRepo.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to MySQL")
	}
	logger.Info("Connected to MySQL")

	// Redis: горячее хранилище траекторий (опционально)
	var redisRepo *repository.RedisRepository
	redisRepo, err = repository.NewRedisRepository(&cfg.Redis, logger)
	if err != nil {
		logger.WithField("error", err).Warn("Failed to initialize Redis repository")
		redisRepo = nil
	} else {
		defer redisRepo.Close()
		if err := redisRepo.Ping(ctx); err != nil {
			logger.WithField("error", err).Warn("Failed to connect to Redis")
			redisRepo.Close()
			redisRepo = nil
		} else {
			logger.Info("Connected to Redis")
		}
	}

	// Геоиндекс по bounding box'ам траекторий
	index := geo.NewIndex(cfg.Geo.GeohashPrecision)

	// Builder: периодическая пересборка набора траекторий
	var store repository.Repository
	if redisRepo != nil {
		store = redisRepo
	}
	builder := service.NewBuilder(mysqlRepo, store, index, logger, &cfg.Collection)

	if err := builder.Rebuild(ctx); err != nil {
		logger.WithField("error", err).Warn("Initial collection build failed")
	}
	go builder.Run(ctx)

	// Batch writer: асинхронная запись входящих точек в MySQL
	batchWriter := service.NewBatchWriter(mysqlRepo, logger, &cfg.Performance)
	batchWriter.Start()
	defer batchWriter.Stop()

	// WebSocket hub для live потока записей
	hub := handler.NewHub(logger)

	// MQTT: живой поток записей точек
	parser := mqtt.NewParser(logger, cfg.Collection.GroupKey, cfg.Collection.DefaultCRS)
	recordHandler := func(record models.PointRecord) error {
		batchWriter.Enqueue(record)
		hub.BroadcastRecord(record)
		return nil
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger, parser, recordHandler)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize MQTT client")
	}
	defer mqttClient.Disconnect()

	if err := mqttClient.Connect(); err != nil {
		logger.WithField("error", err).Warn("Failed to connect to MQTT broker")
	}

	// HTTP сервер
	server := handler.NewServer(cfg, builder, index, batchWriter, hub, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	logger.Info("Server stopped gracefully")
}
