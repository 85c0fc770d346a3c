package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/config"
	"github.com/indiguild/offramp-service/internal/gate"
	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/logger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/provider"
	"github.com/indiguild/offramp-service/internal/queue"
	"github.com/indiguild/offramp-service/internal/service"
	httptransport "github.com/indiguild/offramp-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
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

	// 5. kafka publisher
	publisher := queue.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	defer publisher.Close()

	// 6. ledger, provider client, gate, lifecycle
	store := ledger.NewStore(gdb, rdb, log)
	signer := auth.NewSigner(cfg.Provider.ClientID, cfg.Provider.SecretKey)
	verifier := auth.NewVerifier(cfg.Provider.ClientID, cfg.Provider.SecretKey,
		time.Duration(cfg.Provider.SignatureMaxAge)*time.Second)
	client := provider.NewClient(cfg.Provider.BaseURL, signer, log)
	g := gate.New(client, log)
	lc := service.NewLifecycle(store, client, g, verifier, publisher, cfg.Sell, log)

	// 7. gin router
	router := httptransport.NewRouter(lc, client, signer, cfg, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("offramp-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
