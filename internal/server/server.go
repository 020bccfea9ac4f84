package server

import (
	"context"
	"net/http"
	"time"

	"orderflow/internal/database"
	"orderflow/internal/metrics"
	"orderflow/internal/service"
	"orderflow/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*worker.SweepResult, error)
}

type Options struct {
	CallbackPrivateKey string
	CallbackEvent      string
	CronSecret         string
	// Production hides the messages of unexpected errors from clients.
	Production     bool
	AllowedOrigins []string
}

type Server struct {
	orders  service.OrderService
	refunds service.RefundService
	sweeper Sweeper
	db      database.Service
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func New(
	orders service.OrderService,
	refunds service.RefundService,
	sweeper Sweeper,
	db database.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	return &Server{
		orders:  orders,
		refunds: refunds,
		sweeper: sweeper,
		db:      db,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())
	router.Use(otelgin.Middleware("orderflow"))
	router.Use(LoggerMiddleware(s.logger))
	router.Use(metrics.MetricsMiddleware())

	router.GET("/health", s.Health)
	router.GET("/metrics", metrics.PrometheusHandler())

	api := router.Group("/api")
	{
		api.POST("/tripay/callback", s.TripayCallback)
		api.GET("/tripay/callback", func(c *gin.Context) {
			c.JSON(http.StatusMethodNotAllowed, gin.H{"message": "Tripay callback endpoint - POST only"})
		})

		api.POST("/cron/timeout-checker", s.RunTimeoutSweep)
		api.GET("/cron/timeout-checker", s.TimeoutCheckerStatus)

		api.POST("/refund", s.CreateRefund)
		api.GET("/refund", s.GetRefund)
	}

	return router
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	if len(s.opts.AllowedOrigins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     s.opts.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (s *Server) Health(c *gin.Context) {
	stats := s.db.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"service":  "orderflow",
		"database": stats,
	})
}
