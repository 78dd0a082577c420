package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/greenbasket/api/internal/repositories"
)

// ErrQuoteProductNotFound indicates a cart line references a product that is
// no longer in the catalog.
var ErrQuoteProductNotFound = errors.New("quote: product not found")

// QuoteServiceDeps bundles collaborators required to construct the quote service.
type QuoteServiceDeps struct {
	Products repositories.ProductRepository
	Engine   *CartQuoteEngine
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type quoteService struct {
	products repositories.ProductRepository
	engine   *CartQuoteEngine
	logger   func(context.Context, string, map[string]any)
}

// NewQuoteService wires dependencies into a concrete QuoteService implementation.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Products == nil {
		return nil, errors.New("quote service: product repository is required")
	}
	engine := deps.Engine
	if engine == nil {
		engine = NewCartQuoteEngine()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &quoteService{products: deps.Products, engine: engine, logger: logger}, nil
}

// QuoteCart merges the submitted lines, resolves current catalog prices, and
// prices the cart. An unknown coupon code is reported in the result rather
// than failing the quote.
func (s *quoteService) QuoteCart(ctx context.Context, cmd QuoteCartCommand) (QuoteResult, error) {
	priced, err := s.resolveLines(ctx, cmd.Lines)
	if err != nil {
		return QuoteResult{}, err
	}

	quote, err := s.engine.Price(priced, cmd.CouponCode)
	if err != nil {
		if errors.Is(err, ErrQuoteUnknownCoupon) {
			s.logger(ctx, "quote.coupon_rejected", map[string]any{"coupon": cmd.CouponCode})
			return QuoteResult{Quote: quote, CouponError: err.Error()}, nil
		}
		return QuoteResult{}, err
	}
	return QuoteResult{Quote: quote}, nil
}

func (s *quoteService) resolveLines(ctx context.Context, lines []CartLine) ([]PricedLine, error) {
	var cart Cart
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %q", ErrQuoteInvalidInput, line.Quantity, line.ProductID)
		}
		cart.AddLine(line.ProductID, line.Quantity)
	}

	merged := cart.Lines()
	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve cart products: %w", err)
	}

	priced := make([]PricedLine, 0, len(merged))
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrQuoteProductNotFound, line.ProductID)
		}
		priced = append(priced, PricedLine{
			ProductID: product.ID,
			UnitPrice: product.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return priced, nil
}
