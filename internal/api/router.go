package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/cache"
	"github.com/membriq/chainpay/internal/db"
	"github.com/membriq/chainpay/pkg/logging"
)

// healthChecker reports whether the backing store is reachable
type healthChecker interface {
	Health(ctx context.Context) error
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	health  healthChecker
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(database *db.DB, redisCache *cache.Cache, balance BalanceReader) *Router {
	handler := NewJSONRPCHandler()
	router := &Router{
		handler: handler,
		health:  database,
		logger:  logging.WithComponent("api-router"),
	}

	// Register all API methods
	repo := db.NewRepository(database.DB)
	reporting := NewReportingAPI(repo, balance, redisCache)

	handler.RegisterMethod("referral.get_commissions", reporting.GetCommissions)
	handler.RegisterMethod("referral.get_total_paid", reporting.GetTotalPaid)
	handler.RegisterMethod("referral.get_monthly_paid", reporting.GetMonthlyPaid)
	handler.RegisterMethod("referral.get_stats", reporting.GetStats)
	handler.RegisterMethod("payments.get_payment", reporting.GetPayment)
	handler.RegisterMethod("wallet.get_platform_balance", reporting.GetPlatformBalance)

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

// healthHandler reports service and database health
func (r *Router) healthHandler(c *gin.Context) {
	if err := r.health.Health(c.Request.Context()); err != nil {
		r.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DEGRADED",
			"service": "chainpay-api",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "chainpay-api",
	})
}
