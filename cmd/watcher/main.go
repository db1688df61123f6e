package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/chain"
	"github.com/membriq/chainpay/internal/commission"
	"github.com/membriq/chainpay/internal/db"
	"github.com/membriq/chainpay/internal/watcher"
	"github.com/membriq/chainpay/pkg/config"
	"github.com/membriq/chainpay/pkg/logging"
	"github.com/membriq/chainpay/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.WithService("chainpay-watcher")
	logger.Info("Starting chainpay watcher")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize chain client
	chainClient, err := chain.New(&cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client", zap.Error(err))
	}

	// Wire the processing pipeline
	repo := db.NewRepository(database.DB)
	payments := db.NewPaymentRepository(repo)
	members := db.NewMemberRepository(repo)
	commissions := db.NewCommissionRepository(repo)

	disburser := chain.NewDisburser(chainClient)
	engine := commission.NewEngine(members, members, commissions, disburser, cfg.Commission.Rates)

	membershipDuration := time.Duration(cfg.Watcher.MembershipDays) * 24 * time.Hour
	acceptor := watcher.NewAcceptor(payments, members, engine,
		chainClient.ReceivingAddress(), cfg.Watcher.MinAmount, membershipDuration)
	reconciler := watcher.NewReconciler(payments, chainClient, acceptor)
	chainWatcher := watcher.New(chainClient, acceptor, reconciler, &cfg.Watcher)

	// Run until interrupted
	ctx, cancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down watcher...")
		cancel()
	}()

	if err := chainWatcher.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Watcher exited with error", zap.Error(err))
	}

	logger.Info("Watcher exited")
}
