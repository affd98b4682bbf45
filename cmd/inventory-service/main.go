package main

import (
	"context"
	"flag"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"stockpile/internal/pkg/bootstrap"
	"stockpile/internal/pkg/config"
	"stockpile/internal/pkg/logger"
	"stockpile/internal/pkg/mq"
	redispkg "stockpile/internal/pkg/redis"
	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/application/saga"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/domain/port"
	"stockpile/internal/service/inventory/infrastructure"
	"stockpile/internal/service/inventory/infrastructure/locking"
	"stockpile/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

func main() {
	configPath := flag.String("config", "configs/inventory.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.Service.LogLevel, false)

	inventories, reservations, closeDB := buildRepositories(cfg)

	publisher, closePublisher := buildPublisher(cfg)

	locks, closeLocks := buildLockProvider(cfg)

	tracer := otel.Tracer(serviceName)

	orchestrator := saga.NewOrchestrator(
		inventories, reservations, locks, publisher, tracer,
		saga.WithLockTimings(cfg.Stock.LockLease, cfg.Stock.LockWait),
		saga.WithReservationTTL(cfg.Stock.ReservationTTL),
	)

	service := application.NewStockAvailabilityService(
		inventories, reservations, locks, publisher, orchestrator, tracer,
		application.WithLockTimings(cfg.Stock.LockLease, cfg.Stock.LockWait),
		application.WithReservationTTL(cfg.Stock.ReservationTTL),
	)

	sweeper := application.NewExpirySweeper(service, reservations, cfg.Stock.SweepInterval, cfg.Stock.SweepBatchSize)
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	handler := interfaces.NewStockHandler(service)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    serviceName,
		Port:           cfg.Service.Port,
		JaegerEndpoint: cfg.Infra.Jaeger.Endpoint,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			cancelSweep()
			closePublisher()
			closeLocks()
			closeDB()
		},
	})
}

// buildRepositories 配置了 MySQL DSN 时用 GORM 仓储，否则退回进程内实现。
func buildRepositories(cfg *config.Config) (domain.InventoryRepository, domain.ReservationRepository, func()) {
	if cfg.Infra.MySQL.DSN == "" {
		log.Warn().Msg("no MySQL DSN configured, using in-memory repositories")
		return infrastructure.NewMemoryInventoryRepository(), infrastructure.NewMemoryReservationRepository(), func() {}
	}

	db, err := gorm.Open(mysql.Open(cfg.Infra.MySQL.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MySQL")
	}
	if err := db.AutoMigrate(&infrastructure.InventoryModel{}, &infrastructure.ReservationModel{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	closer := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return infrastructure.NewGormInventoryRepository(db), infrastructure.NewGormReservationRepository(db), closer
}

func buildPublisher(cfg *config.Config) (port.EventPublisher, func()) {
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		log.Warn().Msg("no Kafka brokers configured, events will be dropped")
		return infrastructure.NewNoopEventPublisher(), func() {}
	}

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.EventTopic)
	closer := func() {
		if err := writer.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka writer")
		}
	}
	return infrastructure.NewKafkaEventPublisher(writer), closer
}

func buildLockProvider(cfg *config.Config) (port.LockProvider, func()) {
	switch cfg.Stock.LockProvider {
	case "zookeeper":
		conn, _, err := zk.Connect(cfg.Infra.Zk.Servers, cfg.Infra.Zk.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		return locking.NewZkLockProvider(conn), conn.Close

	case "memory":
		return locking.NewMemoryLockProvider(), func() {}

	default:
		client := redispkg.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		provider, err := locking.NewRedisLockProvider(client)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis lock provider")
		}
		closer := func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis client")
			}
		}
		return provider, closer
	}
}
