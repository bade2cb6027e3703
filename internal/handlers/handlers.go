package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokapasar/lokapasar/internal/cache"
	"github.com/lokapasar/lokapasar/internal/config"
	"github.com/lokapasar/lokapasar/internal/db"
	"github.com/lokapasar/lokapasar/internal/gateway"
	"github.com/lokapasar/lokapasar/internal/logging"
	"github.com/lokapasar/lokapasar/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

const maxRequestBodyBytes = 256 << 10

// orderGetter is the read surface handlers need from the order store.
type orderGetter interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
}

// Handlers provides the HTTP surface of the order API.
type Handlers struct {
	config                *config.Config
	db                    *pgxpool.Pool
	orderStore            orderGetter
	cacheProvider         cache.Provider
	gatewayClient         *gateway.Client
	checkoutService       *services.CheckoutService
	reconciliationService *services.ReconciliationService
	fulfillmentService    *services.FulfillmentService
	logger                *slog.Logger
}

type Dependencies struct {
	Config                *config.Config
	DB                    *pgxpool.Pool
	OrderStore            *db.OrderStore
	CacheProvider         cache.Provider
	GatewayClient         *gateway.Client
	CheckoutService       *services.CheckoutService
	ReconciliationService *services.ReconciliationService
	FulfillmentService    *services.FulfillmentService
	Logger                *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.OrderStore == nil {
		return nil, fmt.Errorf("handlers dependencies: orderStore is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.GatewayClient == nil {
		return nil, fmt.Errorf("handlers dependencies: gatewayClient is required")
	}
	if deps.CheckoutService == nil {
		return nil, fmt.Errorf("handlers dependencies: checkoutService is required")
	}
	if deps.ReconciliationService == nil {
		return nil, fmt.Errorf("handlers dependencies: reconciliationService is required")
	}
	if deps.FulfillmentService == nil {
		return nil, fmt.Errorf("handlers dependencies: fulfillmentService is required")
	}

	return &Handlers{
		config:                deps.Config,
		db:                    deps.DB,
		orderStore:            deps.OrderStore,
		cacheProvider:         deps.CacheProvider,
		gatewayClient:         deps.GatewayClient,
		checkoutService:       deps.CheckoutService,
		reconciliationService: deps.ReconciliationService,
		fulfillmentService:    deps.FulfillmentService,
		logger:                logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.loggerFromContext(ctx).Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads a capped request body into dst and rejects trailing junk.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid request body: unexpected trailing data")
	}
	return nil
}
