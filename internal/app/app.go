package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	redisstore "github.com/givestack/payments/internal/adapter/outbound/redis"
	"github.com/givestack/payments/internal/infra/config"
	"github.com/givestack/payments/internal/infra/httpclient"
	"github.com/givestack/payments/internal/module/gift"
	"github.com/givestack/payments/internal/module/payment"
	"github.com/givestack/payments/internal/module/payment/provider"
	"github.com/givestack/payments/internal/shared/database"
	"github.com/givestack/payments/internal/shared/logger"
)

// Application wires configuration, storage, processors, and HTTP routes.
type Application struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client
	router *gin.Engine
}

// New builds the application from configuration.
func New(cfg *config.Config) (*Application, error) {
	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := payment.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate payment tables: %w", err)
	}
	if err := gift.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate gift tables: %w", err)
	}

	app := &Application{
		config: cfg,
		logger: zapLog,
		db:     db,
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := payment.NewMetrics(promRegistry)

	registry, err := app.buildProcessorRegistry()
	if err != nil {
		return nil, err
	}
	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no payment processors enabled")
	}

	idempotency, dedup := app.buildStores()

	giftRepo := gift.NewRepository(db)
	dispatcher := payment.NewDispatcher(
		registry,
		dedup,
		payment.NewGiftStateHandler(giftRepo, zapLog),
		payment.NewGormAuditLog(db),
		metrics,
		zapLog,
	)

	service := payment.NewService(registry, idempotency, payment.ServiceConfig{
		OperationTimeout: cfg.Payment.OperationTimeout,
		IdempotencyTTL:   cfg.Payment.IdempotencyTTL,
		Retry: payment.RetryPolicy{
			MaxAttempts:  cfg.Payment.RetryAttempts,
			InitialDelay: cfg.Payment.RetryInitialWait,
			MaxDelay:     cfg.Payment.RetryMaxWait,
		},
		BreakerFailures: cfg.Payment.BreakerFailures,
		BreakerCooldown: cfg.Payment.BreakerCooldown,
	}, metrics, zapLog)

	app.router = app.setupRouter(service, dispatcher, promRegistry)
	return app, nil
}

func (a *Application) buildProcessorRegistry() (*payment.Registry, error) {
	registry := payment.NewRegistry()
	httpClient := httpclient.New(a.config.HTTPClient)

	if a.config.Stripe.Enabled {
		registry.Register(provider.NewStripeAdapter(&provider.StripeConfig{
			APIKey:        a.config.Stripe.SecretKey,
			WebhookSecret: a.config.Stripe.WebhookSecret,
			ProductID:     a.config.Stripe.ProductID,
		}))
	}
	if a.config.Adyen.Enabled {
		registry.Register(provider.NewAdyenAdapter(&provider.AdyenConfig{
			BaseURL:       a.config.Adyen.BaseURL,
			APIKey:        a.config.Adyen.APIKey,
			MerchantID:    a.config.Adyen.MerchantID,
			WebhookSecret: a.config.Adyen.WebhookSecret,
		}, httpClient))
	}
	if a.config.PayPal.Enabled {
		planIDs := make(map[provider.Frequency]string, len(a.config.PayPal.PlanIDs))
		for freq, id := range a.config.PayPal.PlanIDs {
			planIDs[provider.Frequency(freq)] = id
		}
		paypalAdapter, err := provider.NewPayPalAdapter(&provider.PayPalConfig{
			ClientID:        a.config.PayPal.ClientID,
			Secret:          a.config.PayPal.Secret,
			IsProd:          a.config.PayPal.IsProd,
			PlanIDs:         planIDs,
			WebhookID:       a.config.PayPal.WebhookID,
			WebhookSecret:   a.config.PayPal.WebhookSecret,
			DefaultCurrency: a.config.PayPal.DefaultCurrency,
		})
		if err != nil {
			return nil, fmt.Errorf("init paypal adapter: %w", err)
		}
		registry.Register(paypalAdapter)
	}
	if a.config.Payment.EnableMock {
		registry.Register(provider.NewMockAdapter(a.config.Payment.MockWebhookSecret))
	}
	return registry, nil
}

// buildStores picks the idempotency and dedup backends: Redis when
// configured, otherwise Postgres through the same gorm connection.
func (a *Application) buildStores() (payment.IdempotencyStore, payment.DedupIndex) {
	if a.config.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Address,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		return redisstore.NewIdempotencyStoreAdapter(a.redis),
			redisstore.NewDedupIndexAdapter(a.redis, a.config.Payment.WebhookDedupTTL)
	}
	return payment.NewGormIdempotencyStore(a.db), payment.NewGormDedupIndex(a.db)
}

func (a *Application) setupRouter(service *payment.Service, dispatcher *payment.Dispatcher, promRegistry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	payment.NewHandler(service).RegisterRoutes(api)

	webhooks := router.Group("/webhooks")
	payment.NewWebhookHandler(dispatcher, a.logger).RegisterRoutes(webhooks)

	return router
}

// requestLogger logs one line per request. Bodies are never logged.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Router returns the HTTP handler.
func (a *Application) Router() http.Handler {
	return a.router
}

// Stop releases application resources.
func (a *Application) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Error("close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
