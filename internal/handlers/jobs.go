package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const (
	maxJobBodySize          = 8 * 1024
	defaultPendingOrdersTTL = 24 * time.Hour
	jobActorFallback        = "system:scheduler"
)

// JobHandlers exposes scheduler-invoked maintenance endpoints. These routes
// are mounted behind the service-to-service verification middleware, not the
// user token middleware.
type JobHandlers struct {
	orders     services.OrderService
	pendingTTL time.Duration
}

// JobOption customises job handler construction.
type JobOption func(*JobHandlers)

// WithPendingOrdersTTL overrides the default age at which pending orders expire.
func WithPendingOrdersTTL(ttl time.Duration) JobOption {
	return func(h *JobHandlers) {
		if ttl > 0 {
			h.pendingTTL = ttl
		}
	}
}

// NewJobHandlers constructs job handlers.
func NewJobHandlers(orders services.OrderService, opts ...JobOption) *JobHandlers {
	h := &JobHandlers{
		orders:     orders,
		pendingTTL: defaultPendingOrdersTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal job endpoints.
func (h *JobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/orders/expire", h.expirePendingOrders)
}

type expireOrdersRequest struct {
	OlderThan string `json:"older_than"`
}

type expireOrdersResponse struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
}

func (h *JobHandlers) expirePendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	olderThan := h.pendingTTL
	if r.ContentLength != 0 {
		var req expireOrdersRequest
		if !decodeJSONBody(ctx, w, r, maxJobBodySize, &req) {
			return
		}
		if raw := strings.TrimSpace(req.OlderThan); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "older_than must be a positive duration", http.StatusBadRequest))
				return
			}
			olderThan = parsed
		}
	}

	actor := jobActorFallback
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil && strings.TrimSpace(svc.Subject) != "" {
		actor = strings.TrimSpace(svc.Subject)
	}

	report, err := h.orders.ExpirePendingOrders(ctx, services.ExpirePendingOrdersCommand{
		OlderThan: olderThan,
		ActorID:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, expireOrdersResponse{
		Scanned:   report.Scanned,
		Cancelled: report.Cancelled,
	})
}
