package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/config"
	"github.com/indiguild/offramp-service/internal/consumer"
	"github.com/indiguild/offramp-service/internal/gate"
	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/logger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/provider"
	"github.com/indiguild/offramp-service/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Logger.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.TransactionRecord{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. lifecycle (no publisher: the consumer only drains the topic)
	store := ledger.NewStore(gdb, rdb, log)
	signer := auth.NewSigner(cfg.Provider.ClientID, cfg.Provider.SecretKey)
	verifier := auth.NewVerifier(cfg.Provider.ClientID, cfg.Provider.SecretKey,
		time.Duration(cfg.Provider.SignatureMaxAge)*time.Second)
	client := provider.NewClient(cfg.Provider.BaseURL, signer, log)
	g := gate.New(client, log)
	lc := service.NewLifecycle(store, client, g, verifier, nil, cfg.Sell, log)

	// 6. kafka reader
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  cfg.Kafka.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	// 7. drain until shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := consumer.New(reader, lc, store, rdb, log)
	log.Infof("offramp-consumer draining topic %s", cfg.Kafka.Topic)
	if err := c.Run(ctx); err != nil {
		log.Fatalf("consumer: %v", err)
	}
	log.Infof("offramp-consumer shut down")
}
