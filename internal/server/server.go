package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/washline/internal/billing"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/gateway"
	"github.com/smallbiznis/washline/internal/generator"
	"github.com/smallbiznis/washline/internal/lock"
	obsmetrics "github.com/smallbiznis/washline/internal/observability/metrics"
	"github.com/smallbiznis/washline/internal/order"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	"github.com/smallbiznis/washline/internal/plan"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	"github.com/smallbiznis/washline/internal/scheduler"
	"github.com/smallbiznis/washline/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	"github.com/smallbiznis/washline/internal/zone"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	zone.Module,
	plan.Module,
	order.Module,
	generator.Module,
	subscription.Module,
	billing.Module,
	gateway.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(obsmetrics.HTTPMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg *config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
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

type Server struct {
	engine          *gin.Engine
	cfg             *config.Config
	log             *zap.Logger
	clock           clock.Clock
	genID           *snowflake.Node
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	orderSvc        orderdomain.Service
	paymentsSvc     billingdomain.Payments
	finesSvc        billingdomain.Fines
	generatorSvc    generator.Service
	resolver        zonedomain.Resolver
	gateway         gateway.Gateway
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             *config.Config
	Log             *zap.Logger
	Clock           clock.Clock
	GenID           *snowflake.Node
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	OrderSvc        orderdomain.Service
	PaymentsSvc     billingdomain.Payments
	FinesSvc        billingdomain.Fines
	GeneratorSvc    generator.Service
	Resolver        zonedomain.Resolver
	Gateway         gateway.Gateway
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		clock:           p.Clock,
		genID:           p.GenID,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		orderSvc:        p.OrderSvc,
		paymentsSvc:     p.PaymentsSvc,
		finesSvc:        p.FinesSvc,
		generatorSvc:    p.GeneratorSvc,
		resolver:        p.Resolver,
		gateway:         p.Gateway,
	}
	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/plans", s.ListPlans)
	api.GET("/plans/:id", s.GetPlan)
	api.GET("/branches", s.ListBranchesForPincode)

	admin := api.Group("", s.RequireRole(RoleAdmin))
	admin.POST("/plans", s.CreatePlan)
	admin.PATCH("/plans/:id", s.UpdatePlan)
	admin.DELETE("/plans/:id", s.DeletePlan)
	admin.PATCH("/admin/orders/:id/status", s.AdminUpdateOrderStatus)
	admin.POST("/ops/ensure-orders", s.OpsEnsureOrders)
	admin.POST("/ops/renewal-payments", s.OpsRenewalPayments)
	admin.POST("/ops/fine-sweep", s.OpsFineSweep)

	customer := api.Group("", s.RequireRole(RoleCustomer))
	customer.POST("/subscriptions", s.Subscribe)
	customer.DELETE("/subscriptions", s.CancelSubscription)
	customer.GET("/subscriptions/me", s.SubscriptionOverview)
	customer.POST("/subscriptions/skip-days", s.RecordSkipDay)
	customer.POST("/orders", s.CreateDemandOrder)
	customer.GET("/orders", s.ListMyOrders)
	customer.GET("/orders/:id", s.GetMyOrder)
	customer.PATCH("/orders/:id", s.UpdateDemandOrder)
	customer.DELETE("/orders/:id", s.DeleteDemandOrder)
	customer.GET("/payments", s.ListMyPayments)
	customer.POST("/payments/:id/checkout", s.CreateCheckout)
	customer.POST("/payments/:id/pay", s.PayPayment)

	staff := api.Group("/staff", s.RequireRole(RoleStaff))
	staff.GET("/orders", s.ListStaffOrders)
	staff.PATCH("/orders/:id/status", s.StaffUpdateOrderStatus)
	staff.PUT("/availability", s.SetAvailability)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
