package services

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Shipping is free once the merchandise subtotal strictly exceeds the
	// threshold; otherwise a flat fee applies. All amounts are cents.
	freeShippingThresholdCents = 50_00
	flatShippingFeeCents       = 5_99

	taxRateBasisPoints    = 700
	discountBasisPoints   = 1000
	basisPointDenominator = 10_000
)

// Coupon codes recognised by the quote engine. Matching is case-insensitive.
const (
	CouponDiscount10   = "DISCOUNT10"
	CouponFreeShipping = "FREESHIP"
)

var (
	// ErrQuoteInvalidInput signals a malformed cart line such as a missing
	// product reference or non-positive quantity.
	ErrQuoteInvalidInput = errors.New("quote: invalid input")
	// ErrQuoteUnknownCoupon indicates the supplied coupon code is not in the
	// coupon table. The accompanying quote is still valid with a zero
	// discount.
	ErrQuoteUnknownCoupon = errors.New("quote: unknown coupon code")
)

// PricedLine pairs a cart line with its resolved catalog unit price in cents.
type PricedLine struct {
	ProductID string
	UnitPrice int64
	Quantity  int
}

// CartQuoteEngine derives shipping, tax, and coupon discounts from a set of
// priced cart lines. It performs no I/O and is safe for concurrent use.
type CartQuoteEngine struct{}

// NewCartQuoteEngine returns a quote engine with the standard rate table.
func NewCartQuoteEngine() *CartQuoteEngine {
	return &CartQuoteEngine{}
}

// Price computes the full cost breakdown for the given lines. An unrecognised
// coupon code yields ErrQuoteUnknownCoupon together with a quote whose
// discount is zero; any previously negotiated discount does not survive an
// invalid code.
func (e *CartQuoteEngine) Price(lines []PricedLine, couponCode string) (Quote, error) {
	var subtotal int64
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return Quote{}, fmt.Errorf("%w: line %d is missing a product reference", ErrQuoteInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: line %d has quantity %d", ErrQuoteInvalidInput, i, line.Quantity)
		}
		if line.UnitPrice < 0 {
			return Quote{}, fmt.Errorf("%w: line %d has a negative unit price", ErrQuoteInvalidInput, i)
		}
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	shipping := int64(flatShippingFeeCents)
	if subtotal > freeShippingThresholdCents {
		shipping = 0
	}
	tax := roundHalfUpBasisPoints(subtotal, taxRateBasisPoints)

	quote := Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
	}

	code := strings.ToUpper(strings.TrimSpace(couponCode))
	switch code {
	case "":
	case CouponDiscount10:
		quote.Discount = roundHalfUpBasisPoints(subtotal, discountBasisPoints)
		quote.CouponCode = code
	case CouponFreeShipping:
		quote.Discount = shipping
		quote.CouponCode = code
	default:
		quote.Total = subtotal + shipping + tax
		return quote, fmt.Errorf("%w: %q", ErrQuoteUnknownCoupon, couponCode)
	}

	quote.Total = subtotal + shipping + tax - quote.Discount
	return quote, nil
}

// roundHalfUpBasisPoints applies a basis-point rate to a cent amount,
// rounding half-up in integer arithmetic to avoid binary-float drift.
func roundHalfUpBasisPoints(amount int64, bps int64) int64 {
	return (amount*bps + basisPointDenominator/2) / basisPointDenominator
}

// Cart accumulates lines before a quote or placement. The zero value is an
// empty cart.
type Cart struct {
	lines []CartLine
}

// AddLine appends a new line or merges the quantity into an existing line
// for the same product.
func (c *Cart) AddLine(productID string, quantity int) {
	if quantity <= 0 {
		return
	}
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity += quantity
			return
		}
	}
	c.lines = append(c.lines, CartLine{ProductID: productID, Quantity: quantity})
}

// SetQuantity replaces the quantity for a product. A quantity of zero or
// less removes the line.
func (c *Cart) SetQuantity(productID string, quantity int) {
	if quantity <= 0 {
		c.RemoveLine(productID)
		return
	}
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity = quantity
			return
		}
	}
	c.lines = append(c.lines, CartLine{ProductID: productID, Quantity: quantity})
}

// RemoveLine deletes the line for a product if present.
func (c *Cart) RemoveLine(productID string) {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = nil
}

// Lines returns a copy of the current cart contents.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}
