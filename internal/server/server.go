// Package server wires the HTTP surface: donor-facing giving operations,
// provider webhooks, and the gateway admin API.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/config"
	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	gatewayservice "github.com/steeplehq/giving/internal/gateway/service"
	"github.com/steeplehq/giving/internal/gateway/webhook"
	ledgerservice "github.com/steeplehq/giving/internal/ledger/service"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	db       *gorm.DB
	node     *snowflake.Node
	gateways *gatewayservice.Service
	webhooks *webhook.Service
	ledger   *ledgerservice.Service
	log      *zap.Logger
}

type Params struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Gateways *gatewayservice.Service
	Webhooks *webhook.Service
	Ledger   *ledgerservice.Service
	Logger   *zap.Logger
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		db:       p.DB,
		node:     p.Node,
		gateways: p.Gateways,
		webhooks: p.Webhooks,
		ledger:   p.Ledger,
		log:      p.Logger.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	giving := s.engine.Group("/giving")
	{
		giving.POST("/donate/webhook/:provider", s.HandleWebhook)
		giving.POST("/donate/charge", s.HandleCharge)
		giving.POST("/donate/fee", s.HandleFeeQuote)
		giving.GET("/client-token", s.HandleClientToken)
		giving.POST("/orders", s.HandleCreateOrder)
		giving.POST("/orders/:id/capture", s.HandleCaptureOrder)
		giving.POST("/subscribe", s.HandleSubscribe)
		giving.PUT("/subscriptions/:id", s.HandleUpdateSubscription)
		giving.DELETE("/subscriptions/:id", s.HandleCancelSubscription)
	}

	admin := s.engine.Group("/admin")
	{
		admin.GET("/gateways", s.HandleListGateways)
		admin.POST("/gateways", s.HandleSaveGateway)
		admin.DELETE("/gateways/:id", s.HandleDeleteGateway)
	}
}

// tenantID resolves the caller's tenant from the tenantId query parameter or
// the X-Tenant-ID header.
func (s *Server) tenantID(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Query("tenantId"))
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
	}
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) requireTenant(c *gin.Context) (snowflake.ID, bool) {
	tenantID, ok := s.tenantID(c)
	if !ok {
		AbortWithError(c, gatewaydomain.ErrInvalidRequest)
		return 0, false
	}
	return tenantID, true
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
