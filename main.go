package main

import (
	"clinipratica/api/billing"
	"clinipratica/api/config"
	"clinipratica/api/db"
	"clinipratica/api/handlers"
	"clinipratica/api/kafka"
	"clinipratica/api/logger"
	"clinipratica/api/mercadopago"
	"clinipratica/api/middleware"
	"clinipratica/api/mongodb"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("Warning: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Development, logger.LogLevel(cfg.LogLevel)); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Get().Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase); err != nil {
		logger.Get().Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongodb.CloseMongoDB()
	if err := mongodb.EnsureIndexes(ctx); err != nil {
		logger.Get().Fatal("failed to create MongoDB indexes", zap.Error(err))
	}

	if cfg.DatabaseURL != "" {
		if err := db.InitDB(ctx, cfg.DatabaseURL); err != nil {
			logger.Get().Fatal("failed to connect to Postgres", zap.Error(err))
		}
		defer db.CloseDB()
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Get().Fatal("failed to create journal schema", zap.Error(err))
		}
	} else {
		logger.Get().Warn("DATABASE_URL not set, webhook journal disabled")
	}
	journal := db.NewJournal(db.DB)

	publishing := cfg.Kafka.BootstrapServers != ""
	if publishing {
		if err := kafka.InitProducer(cfg.Kafka); err != nil {
			logger.Get().Fatal("failed to start Kafka producer", zap.Error(err))
		}
		defer kafka.CloseProducer(5000)
	} else {
		logger.Get().Info("KAFKA_BOOTSTRAP_SERVERS not set, billing events will not be published")
	}

	if cfg.MercadoPago.WebhookSecret == "" {
		logger.Get().Warn("MP_WEBHOOK_SECRET not set, accepting unsigned webhooks",
			zap.Bool("security_event", true))
	}

	plans := billing.NewPlanTable(billing.DefaultPlans(cfg.MercadoPago.PlanIDs))
	provider, err := mercadopago.NewClient(cfg.MercadoPago.BaseURL, cfg.MercadoPago.AccessToken, nil)
	if err != nil {
		logger.Get().Fatal("failed to configure Mercado Pago client", zap.Error(err))
	}
	tenants := mongodb.TenantStore{}
	reconciler := billing.NewReconciler(tenants, provider, plans,
		billing.WithJournal(journal),
		billing.WithPublisher(kafka.NewPublisher(publishing)),
	)

	webhookHandler := handlers.NewWebhookHandler(reconciler)
	subscriptionHandler := handlers.NewSubscriptionHandler(tenants, plans, cfg.TrialDays)
	financeHandler := handlers.NewFinanceHandler(mongodb.FinanceStore{}, cfg.Location)
	internalHandler := handlers.NewInternalHandler(journal)

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID)
	router.Use(middleware.CorsMiddleware(cfg.AllowedOrigin))
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/mercadopago",
		middleware.MercadoPagoWebhookVerifier(cfg.MercadoPago.WebhookSecret, cfg.MercadoPago.AllowUnsignedWebhooks,
			cfg.MercadoPago.SignatureTolerance),
		webhookHandler.HandleMercadoPago)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg.SupabaseJWTSecret, cfg.JWTIssuer()))
	{
		api.POST("/tenants", subscriptionHandler.HandleCreateTenant)
		api.GET("/subscription", subscriptionHandler.HandleGetSubscription)
		api.POST("/subscription/cancel-trial", subscriptionHandler.HandleCancelTrial)
		api.PUT("/subscription/plan", subscriptionHandler.HandleChangePlan)

		api.GET("/finance/monthly-fees", financeHandler.HandleGetMonthlyFees)
		api.POST("/transactions", financeHandler.HandleCreateTransaction)
		api.PATCH("/transactions/:id/status", financeHandler.HandleUpdateTransactionStatus)
		api.POST("/patients/:id/monthly-fee/payments", financeHandler.HandleRecordMonthlyFeePayment)
		api.PUT("/patients/:id/monthly-fee", financeHandler.HandleUpdateMonthlyFee)
	}

	internal := router.Group("/internal", middleware.InternalAPIKeyMiddleware(cfg.InternalAPIKey))
	internal.GET("/tenants/:id/webhook-events", internalHandler.HandleListWebhookEvents)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Get().Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Get().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("graceful shutdown failed", zap.Error(err))
	}
}
