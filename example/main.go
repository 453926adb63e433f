package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/korvan/moneybox"
	"github.com/korvan/moneybox/circuitbreaker"
	"github.com/korvan/moneybox/storage"
	"github.com/korvan/moneybox/storage/sqlstore"
)

const dbDSN = "root:password@tcp(localhost:3306)/moneybox?parseTime=true"

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := sql.Open("mysql", dbDSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	store := sqlstore.NewSQLStore(db, logger)
	if err := store.EnsureTables(context.Background()); err != nil {
		logger.Fatal("Failed to ensure tables", zap.Error(err))
	}

	// 1. Delivery channel. Swap for moneybox.NewNopDeliverer() to run
	// without a broker.
	deliverer, err := moneybox.NewKafkaDeliverer(logger,
		moneybox.WithKafkaProducerProps(map[string]interface{}{
			"bootstrap.servers": "localhost:9092",
		}),
	)
	if err != nil {
		logger.Fatal("Failed to create Kafka deliverer", zap.Error(err))
	}
	defer deliverer.Close()

	// 2. One breaker per downstream target; the notifications service gets
	// a more forgiving configuration than the accounts service.
	breakers := circuitbreaker.NewRegistry(logger, circuitbreaker.DefaultConfig())
	breakers.Configure(moneybox.TargetNotifications, circuitbreaker.Config{
		SlidingWindowSize:        20,
		FailureRateThreshold:     0.6,
		WaitDurationInOpenState:  time.Minute,
		PermittedCallsInHalfOpen: 5,
	})

	// 3. The writer shares the database with the store through the
	// transaction manager, so business rows and outbox events commit
	// in one unit.
	trManager := manager.Must(trmsql.NewDefaultFactory(db))
	writer := moneybox.NewOperationWriter(store, trManager, logger, nil)

	dispatch := moneybox.NewDispatchService(store, deliverer, breakers, logger, nil,
		moneybox.WithDispatchBatchSize(50),
		moneybox.WithLeaseTimeout(time.Minute),
		moneybox.WithMaxDeliveryAttempts(5),
	)
	retention := moneybox.NewRetentionService(store, logger, nil,
		moneybox.WithRetentionWindow(24*time.Hour),
	)
	reporter := moneybox.NewFailedEventReporter(store, logger, nil)

	workers := []moneybox.Worker{
		moneybox.NewBaseWorker("outbox_dispatch", moneybox.DefaultPollInterval, logger, dispatch.Dispatch),
		moneybox.NewBaseWorker("retention_sweep", moneybox.DefaultRetentionInterval, logger, retention.Sweep),
		moneybox.NewBaseWorker("failed_event_report", 10*time.Minute, logger, reporter.Report),
	}

	dispatcher := moneybox.NewDispatcher(logger, workers...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go dispatcher.Start(ctx)

	time.Sleep(1 * time.Second)
	logger.Info("Dispatcher started, committing sample operations...")
	go commitSampleOperations(context.Background(), writer, logger)

	<-ctx.Done()

	logger.Info("Shutdown signal received, stopping dispatcher...")
	dispatcher.Stop()
	logger.Info("Dispatcher stopped gracefully")
}

func commitSampleOperations(ctx context.Context, writer *moneybox.OperationWriter, logger *zap.Logger) {
	for _, login := range []string{"alice", "bob"} {
		if err := writer.CreateAccount(ctx, login, decimal.NewFromInt(100)); err != nil &&
			!errors.Is(err, storage.ErrAccountAlreadyExists) {
			logger.Error("Failed to create account", zap.String("login", login), zap.Error(err))
			return
		}
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			op, err := writer.Deposit(ctx, "alice", decimal.RequireFromString("25.00"))
			if err != nil {
				logger.Error("Deposit failed", zap.Error(err))
				continue
			}
			logger.Info("Deposit committed", zap.String("operation_id", op.ID.String()))

			result, err := writer.Transfer(ctx, "alice", "bob", decimal.RequireFromString("10.00"))
			if err != nil {
				logger.Error("Transfer failed", zap.Error(err))
				continue
			}
			logger.Info("Transfer committed",
				zap.String("outgoing", result.Outgoing.ID.String()),
				zap.String("incoming", result.Incoming.ID.String()),
			)
		}
	}
}
