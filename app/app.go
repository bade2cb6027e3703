package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/lmittmann/tint"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokapasar/lokapasar/internal/cache"
	"github.com/lokapasar/lokapasar/internal/config"
	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/email"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/handlers"
	"github.com/lokapasar/lokapasar/internal/logging"
	"github.com/lokapasar/lokapasar/internal/observability"
	"github.com/lokapasar/lokapasar/internal/services"
)

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	DB             *pgxpool.Pool
	CacheProvider  cache.Provider
	Handlers       *handlers.Handlers
	Reconciliation *services.ReconciliationService
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			EnableLogs:       true,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	orderStore := db.NewOrderStore(database)
	productStore := db.NewProductStore(database)
	attemptStore := db.NewPaymentAttemptStore(database)

	gatewayClient := gateway.NewClient(gateway.Config{
		ServerKey:  cfg.MidtransServerKey,
		Production: cfg.MidtransProduction,
		BaseURL:    cfg.MidtransBaseURL,
		HTTPClient: observability.NewHTTPClient(cfg.GatewayTimeout),
	})

	emailSender := newEmailSender(cfg, logger)

	checkoutService := services.NewCheckoutService(
		orderStore,
		productStore,
		attemptStore,
		gatewayClient,
		logger.With("component", "checkout_service"),
	)
	reconciliationService := services.NewReconciliationService(
		orderStore,
		attemptStore,
		gatewayClient,
		emailSender,
		cfg.SweepStaleAfter,
		logger.With("component", "reconciliation_service"),
	)
	fulfillmentService := services.NewFulfillmentService(
		orderStore,
		emailSender,
		logger.With("component", "fulfillment_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:                cfg,
		DB:                    database,
		OrderStore:            orderStore,
		CacheProvider:         cacheProvider,
		GatewayClient:         gatewayClient,
		CheckoutService:       checkoutService,
		ReconciliationService: reconciliationService,
		FulfillmentService:    fulfillmentService,
		Logger:                logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:         cfg,
		Logger:         logger,
		DB:             database,
		CacheProvider:  cacheProvider,
		Handlers:       h,
		Reconciliation: reconciliationService,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var local slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		local = slog.NewJSONHandler(os.Stdout, opts)
	default:
		local = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if cfg.SentryDSN == "" {
		return slog.New(local)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
	}.NewSentryHandler(context.Background())

	return slog.New(logging.MultiHandler(local, sentryHandler))
}

func newEmailSender(cfg *config.Config, logger *slog.Logger) services.OrderEmailSender {
	if !cfg.EmailEnabled() {
		return services.NewNoopOrderEmailSender()
	}

	provider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		logger.Warn("email provider misconfigured, buyer notifications disabled", "error", err)
		return services.NewNoopOrderEmailSender()
	}
	return services.NewProviderEmailSender(provider, logger.With("component", "email_sender"))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
