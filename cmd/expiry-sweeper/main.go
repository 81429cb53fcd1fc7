package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/subscription-payments/internal/repository"
	"github.com/prohmpiriya/subscription-payments/internal/worker"
	"github.com/prohmpiriya/subscription-payments/pkg/config"
	"github.com/prohmpiriya/subscription-payments/pkg/database"
	"github.com/prohmpiriya/subscription-payments/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "expiry-sweeper",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Expiry Sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      5,
		MinConns:      1,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	sweeper := worker.NewExpiryWorker(
		repository.NewPostgresTransactionRepository(db),
		&worker.ExpiryWorkerConfig{
			ScanInterval: cfg.Sweeper.ScanInterval,
			BatchSize:    cfg.Sweeper.BatchSize,
			PendingTTL:   cfg.Sweeper.PendingTTL,
		},
	)
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start sweeper: %v", err))
	}

	appLog.Info("Expiry Sweeper started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down sweeper...")
	sweeper.Stop()

	stats := sweeper.GetStats()
	appLog.Info(fmt.Sprintf("Sweeper exited gracefully (abandoned=%d, skipped=%d)", stats.TotalAbandoned, stats.TotalSkipped))
}
