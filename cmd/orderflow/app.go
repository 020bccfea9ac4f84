package main

import (
	"context"
	"database/sql"
	"fmt"

	"orderflow/internal/config"
	"orderflow/internal/database"
	"orderflow/internal/events"
	"orderflow/internal/infrastructure/kafka"
	"orderflow/internal/infrastructure/payment"
	"orderflow/internal/logger"
	"orderflow/internal/notify"
	"orderflow/internal/repo"
	"orderflow/internal/service"
	"orderflow/internal/worker"

	"go.uber.org/zap"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	health database.Service

	bus       *events.Bus
	publisher events.Publisher
	producer  *kafka.Producer

	orders  service.OrderService
	refunds service.RefundService
	sweeper *worker.TimeoutSweeper
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Env)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.GetDBConnectionString())
	if err != nil {
		appLogger.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: appLogger,
		db:     db,
		health: database.New(db, appLogger.With(zap.String("component", "database"))),
		bus:    events.NewBus(appLogger.With(zap.String("component", "events"))),
	}

	tx := database.NewTransactor(db)
	orderRepo := repo.NewOrderRepo()
	refundRepo := repo.NewRefundRepo()

	notify.NewNotifier(tx, repo.NewNotificationRepo(), repo.NewChatRepo(),
		appLogger.With(zap.String("component", "notifier")),
	).Register(a.bus)

	a.publisher = a.bus
	if brokers := cfg.GetKafkaBrokers(); brokers != nil {
		a.producer = kafka.NewProducer(brokers, cfg.KafkaEventsTopic, appLogger.With(zap.String("component", "kafka-producer")))
		a.publisher = a.producer
	}

	a.refunds = service.NewRefundService(
		tx, orderRepo, refundRepo,
		payment.NewTripayRefunds(appLogger.With(zap.String("component", "tripay"))),
		a.publisher,
		cfg.RefundWindow,
		appLogger.With(zap.String("component", "refunds")),
	)
	a.orders = service.NewOrderService(
		tx, orderRepo, refundRepo, a.publisher,
		service.CallbackOptions{
			ConfirmationWindow:  cfg.ConfirmationWindow,
			CreateMissingOrders: cfg.MissingOrderPolicy == config.MissingOrderCreateStub,
		},
		appLogger.With(zap.String("component", "orders")),
	)
	a.sweeper = worker.NewTimeoutSweeper(
		tx, orderRepo, a.refunds, a.publisher,
		worker.SweepOptions{
			BatchSize:                 cfg.SweepBatchSize,
			PaymentTimeoutReason:      cfg.PaymentTimeoutReason,
			ConfirmationTimeoutReason: cfg.ConfirmationTimeoutReason,
		},
		appLogger.With(zap.String("component", "sweeper")),
	)

	return a, nil
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}
	if err := a.health.Close(); err != nil {
		a.logger.Error("Error closing database connection", zap.Error(err))
	}
	_ = a.logger.Sync()
}
