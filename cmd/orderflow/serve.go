package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/infrastructure/kafka"
	"orderflow/internal/server"
	"orderflow/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the event consumer and the optional sweeper loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, skipMigrations)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply database migrations on start")
	return cmd
}

func runServe(ctx context.Context, skipMigrations bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if !skipMigrations {
		if err := database.Migrate(a.db, a.logger); err != nil {
			a.logger.Error("Failed to run database migrations", zap.Error(err))
			return err
		}
	}

	shutdownTracing, err := tracing.InitTracing("orderflow", a.cfg.JaegerEndpoint, a.logger)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	var wg sync.WaitGroup

	if brokers := a.cfg.GetKafkaBrokers(); brokers != nil {
		consumer := kafka.NewConsumer(brokers, a.cfg.KafkaConsumerGroup, a.cfg.KafkaEventsTopic, a.bus,
			a.logger.With(zap.String("component", "kafka-consumer")))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				a.logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	if a.cfg.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper.Run(ctx, a.cfg.SweepInterval)
		}()
	}

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(a.orders, a.refunds, a.sweeper, a.health, server.Options{
		CallbackPrivateKey: a.cfg.Tripay.PrivateKey,
		CallbackEvent:      a.cfg.Tripay.CallbackEvent,
		CronSecret:         a.cfg.CronSecret,
		Production:         a.cfg.IsProduction(),
		AllowedOrigins:     a.cfg.CORSAllowedOrigins,
	}, a.logger.With(zap.String("component", "http")))

	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	a.logger.Info("HTTP server started", zap.String("addr", a.cfg.HTTPAddr))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
			return err
		}
	}

	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	wg.Wait()
	a.logger.Info("Server exited")
	return nil
}
