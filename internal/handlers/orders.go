package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 128 * 1024
)

// OrderHandlers exposes the customer-facing order endpoints. All routes
// require an authenticated identity; ownership checks happen in the service.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type placeOrderRequest struct {
	Lines              []cartLinePayload    `json:"lines"`
	CouponCode         string               `json:"coupon_code"`
	ExpectedTotalCents *int64               `json:"expected_total_cents"`
	Shipping           shippingPayload      `json:"shipping"`
	Payment            *paymentInputPayload `json:"payment"`
}

type shippingPayload struct {
	RecipientName string `json:"recipient_name"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
}

type paymentInputPayload struct {
	Method        string `json:"method"`
	ProviderToken string `json:"provider_token"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderListResponse struct {
	Orders        []enrichedOrderPayload `json:"orders"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type enrichedOrderPayload struct {
	Order    orderPayload                     `json:"order"`
	Owner    *ownerPayload                    `json:"owner,omitempty"`
	Products map[string]productSummaryPayload `json:"products,omitempty"`
}

type ownerPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type productSummaryPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	ImagePath  string `json:"image_path,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string              `json:"id"`
	OrderNumber  string              `json:"order_number"`
	UserID       string              `json:"user_id"`
	Status       string              `json:"status"`
	Lines        []orderLinePayload  `json:"lines"`
	Totals       orderTotalsPayload  `json:"totals"`
	CouponCode   string              `json:"coupon_code,omitempty"`
	Shipping     shippingPayload     `json:"shipping"`
	Payment      *paymentInfoPayload `json:"payment,omitempty"`
	CancelReason *string             `json:"cancel_reason,omitempty"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at,omitempty"`
	AcceptedAt   string              `json:"accepted_at,omitempty"`
	RejectedAt   string              `json:"rejected_at,omitempty"`
	ShippedAt    string              `json:"shipped_at,omitempty"`
	DeliveredAt  string              `json:"delivered_at,omitempty"`
	CanceledAt   string              `json:"canceled_at,omitempty"`
}

type orderLinePayload struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

type orderTotalsPayload struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	TaxCents      int64 `json:"tax_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type paymentInfoPayload struct {
	Method    string `json:"method"`
	CardBrand string `json:"card_brand,omitempty"`
	CardLast4 string `json:"card_last4,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.CartLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	cmd := services.PlaceOrderCommand{
		UserID:        strings.TrimSpace(identity.UID),
		Lines:         lines,
		CouponCode:    req.CouponCode,
		ExpectedTotal: req.ExpectedTotalCents,
		Shipping: domain.ShippingDetails{
			RecipientName: req.Shipping.RecipientName,
			Address:       req.Shipping.Address,
			City:          req.Shipping.City,
			PostalCode:    req.Shipping.PostalCode,
		},
	}
	if req.Payment != nil {
		cmd.Payment = &services.PaymentInput{
			Method:        req.Payment.Method,
			ProviderToken: req.Payment.ProviderToken,
		}
	}

	order, err := h.orders.Place(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	page, err := h.orders.ListMine(ctx, services.ListMyOrdersCommand{
		UserID: strings.TrimSpace(identity.UID),
		Pagination: domain.Pagination{
			PageSize:  parsePageSize(r, defaultOrderPageSize, maxOrderPageSize),
			PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID:    orderID,
		ActorID:    strings.TrimSpace(identity.UID),
		ActorRoles: identity.Roles,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func buildOrderListResponse(page domain.CursorPage[services.EnrichedOrder]) orderListResponse {
	response := orderListResponse{
		Orders:        make([]enrichedOrderPayload, 0, len(page.Items)),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	for _, enriched := range page.Items {
		response.Orders = append(response.Orders, buildEnrichedOrderPayload(enriched))
	}
	return response
}

func buildEnrichedOrderPayload(enriched services.EnrichedOrder) enrichedOrderPayload {
	payload := enrichedOrderPayload{
		Order: buildOrderPayload(enriched.Order),
	}
	if enriched.Owner != nil {
		payload.Owner = &ownerPayload{
			ID:          enriched.Owner.ID,
			DisplayName: enriched.Owner.DisplayName,
			Email:       enriched.Owner.Email,
		}
	}
	if len(enriched.Products) > 0 {
		payload.Products = make(map[string]productSummaryPayload, len(enriched.Products))
		for id, summary := range enriched.Products {
			payload.Products[id] = productSummaryPayload{
				ID:         summary.ID,
				Name:       summary.Name,
				PriceCents: summary.UnitPrice,
				ImagePath:  summary.ImagePath,
			}
		}
	}
	return payload
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Lines:       make([]orderLinePayload, 0, len(order.Lines)),
		Totals: orderTotalsPayload{
			SubtotalCents: order.Totals.Subtotal,
			ShippingCents: order.Totals.Shipping,
			TaxCents:      order.Totals.Tax,
			DiscountCents: order.Totals.Discount,
			TotalCents:    order.Totals.Total,
		},
		CouponCode: order.CouponCode,
		Shipping: shippingPayload{
			RecipientName: order.Shipping.RecipientName,
			Address:       order.Shipping.Address,
			City:          order.Shipping.City,
			PostalCode:    order.Shipping.PostalCode,
		},
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		AcceptedAt:   formatTime(pointerTime(order.AcceptedAt)),
		RejectedAt:   formatTime(pointerTime(order.RejectedAt)),
		ShippedAt:    formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:  formatTime(pointerTime(order.DeliveredAt)),
		CanceledAt:   formatTime(pointerTime(order.CanceledAt)),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID:      line.ProductID,
			Name:           line.Name,
			UnitPriceCents: line.UnitPrice,
			Quantity:       line.Quantity,
		})
	}
	if order.Payment != nil {
		payload.Payment = &paymentInfoPayload{
			Method:    order.Payment.Method,
			CardBrand: order.Payment.CardBrand,
			CardLast4: order.Payment.CardLast4,
		}
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderTotalMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("total_mismatch", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment verification is not available", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func pointerTime(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
