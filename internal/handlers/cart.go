package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const maxCartBodySize = 64 * 1024

// CartHandlers exposes the stateless cart quote endpoint. Carts live on the
// client; the server only prices them.
type CartHandlers struct {
	quotes services.QuoteService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(quotes services.QuoteService) *CartHandlers {
	return &CartHandlers{quotes: quotes}
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

type cartLinePayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type quoteRequest struct {
	Lines      []cartLinePayload `json:"lines"`
	CouponCode string            `json:"coupon_code"`
}

type quotePayload struct {
	SubtotalCents int64  `json:"subtotal_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	TaxCents      int64  `json:"tax_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
	CouponCode    string `json:"coupon_code,omitempty"`
}

type quoteResponse struct {
	Quote       quotePayload `json:"quote"`
	CouponError string       `json:"coupon_error,omitempty"`
}

func (h *CartHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req quoteRequest
	if !decodeJSONBody(ctx, w, r, maxCartBodySize, &req) {
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.CartLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	result, err := h.quotes.QuoteCart(ctx, services.QuoteCartCommand{
		Lines:      lines,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeQuoteServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, quoteResponse{
		Quote:       toQuotePayload(result.Quote),
		CouponError: result.CouponError,
	})
}

func toQuotePayload(quote domain.Quote) quotePayload {
	return quotePayload{
		SubtotalCents: quote.Subtotal,
		ShippingCents: quote.Shipping,
		TaxCents:      quote.Tax,
		DiscountCents: quote.Discount,
		TotalCents:    quote.Total,
		CouponCode:    quote.CouponCode,
	}
}

func writeQuoteServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrQuoteInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrQuoteProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "one or more products no longer exist", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
