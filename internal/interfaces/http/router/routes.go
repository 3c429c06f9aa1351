package router

import (
	"github.com/gin-gonic/gin"
	"github.com/marketplace/payouts/internal/infrastructure/auth"
	"github.com/marketplace/payouts/internal/infrastructure/config"
	"github.com/marketplace/payouts/internal/infrastructure/logger"
	"github.com/marketplace/payouts/internal/interfaces/http/handler"
	"github.com/marketplace/payouts/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// Handlers are the HTTP handlers mounted by NewEngine
type Handlers struct {
	Health         *handler.HealthHandler
	Orders         *handler.OrderHandler
	Payouts        *handler.PayoutHandler
	Reconciliation *handler.ReconciliationHandler
	Commission     *handler.CommissionHandler
}

// EngineConfig configures the middleware chain
type EngineConfig struct {
	HTTP           config.HTTPConfig
	ServiceName    string
	TracingEnabled bool
	Production     bool
	JWTService     *auth.JWTService
	Logger         *zap.Logger
}

// NewEngine builds the gin engine with the middleware chain and every
// payout route. Reads need payout:read, writes need payout:write.
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(middleware.TracingConfig{ServiceName: cfg.ServiceName, Enabled: cfg.TracingEnabled}),
		middleware.SpanErrorMarker(),
		middleware.SecureWithConfig(middleware.SecurityConfig{HSTSEnabled: cfg.Production, HSTSMaxAge: 31536000}),
		middleware.CORSWithConfig(middleware.CORSFromConfig(cfg.HTTP)),
	)
	if cfg.HTTP.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	}
	jwtCfg := middleware.DefaultJWTConfig(cfg.JWTService)
	jwtCfg.Logger = log
	engine.Use(middleware.JWTAuthMiddlewareWithConfig(jwtCfg), middleware.TracingAttributeInjector())

	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}

	read := middleware.RequireRole(auth.RolePayoutRead)
	write := middleware.RequireRole(auth.RolePayoutWrite)

	reconciliation := NewDomainGroup("reconciliation", "/reconciliation").
		GET("/summary", read, h.Reconciliation.GlobalSummary).
		GET("/sellers/:seller_id", read, h.Reconciliation.SellerSummary).
		GET("/sellers/:seller_id/history", read, h.Reconciliation.TransferHistory).
		GET("/orders/:order_id", read, h.Reconciliation.OrderBreakdown).
		POST("/exports", write, h.Reconciliation.Export)

	payouts := NewDomainGroup("payouts", "/payouts").
		GET("/:seller_id/:period", read, h.Payouts.Get).
		POST("/:seller_id/:period/processing", write, h.Payouts.MarkProcessing).
		POST("/:seller_id/:period/transfer", write, h.Payouts.MarkTransferred)

	batches := NewDomainGroup("transfer-batches", "/transfer-batches").
		POST("", write, h.Reconciliation.CreateTransferBatch)

	orders := NewDomainGroup("orders", "/orders").
		POST("", write, h.Orders.Create).
		PATCH("/:order_id/status", write, h.Orders.UpdateStatus)

	commission := NewDomainGroup("commission", "/commission").
		GET("/config", read, h.Commission.GetConfig).
		PUT("/config", write, h.Commission.UpdateConfig).
		PUT("/overrides", write, h.Commission.SetSellerOverrides).
		GET("/stats", read, h.Reconciliation.CommissionStats)

	NewRouter(engine).Register(reconciliation, payouts, batches, orders, commission).Setup()
	return engine
}
