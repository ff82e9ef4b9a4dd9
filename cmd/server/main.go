package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-service/config"
	"inventory-service/internal/api"
	"inventory-service/internal/broker"
	"inventory-service/internal/lockpool"
	"inventory-service/internal/redisclient"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"
	"inventory-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting inventory service")

	tp, err := util.InitTracer("inventory-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var db store.Store
	if cfg.Database.Backend == "memory" {
		db = store.NewMemory()
		log.Println("Using in-memory store")
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to ensure database schema: %v", err)
		}
		db = pg
		log.Println("Database connected")
	}
	defer db.Close()

	var cache *redisclient.Client
	if cfg.Redis.Enabled {
		cache, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		log.Println("Redis connected")
	}

	var publisher *broker.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		log.Println("Kafka producer initialized")
	}

	locks := lockpool.New()
	strategies := map[string]service.Strategy{
		service.StrategyOptimistic:  service.NewOptimisticStrategy(db, cfg.Business.OptimisticMaxRetries),
		service.StrategyPessimistic: service.NewPessimisticStrategy(db, locks, cfg.Business.PessimisticLockTimeout),
	}

	// Interface-typed nils must stay nil, not wrap a nil pointer.
	var cacheDep service.AvailabilityCache
	var snapshotCache service.SnapshotCache
	if cache != nil {
		cacheDep = cache
		snapshotCache = cache
	}
	var publisherDep service.ReservationEventPublisher
	if publisher != nil {
		publisherDep = publisher
	}

	reservationService := service.NewReservationService(db, strategies, publisherDep, cacheDep, cfg.Business.DefaultHoldTTL)
	catalogService := service.NewCatalogService(db)
	reporter := service.NewReporter(db, snapshotCache, cfg.Business.AvailabilityCacheTTL)

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	sweeper := worker.NewSweeper(db, reservationService, cfg.Business.ExpiryCheckInterval)
	go func() {
		if err := sweeper.Start(sweeperCtx); err != nil && err != context.Canceled {
			log.Printf("Expiry sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reservationService, catalogService, reporter)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	sweeperCancel()

	log.Println("Server exited")
}
