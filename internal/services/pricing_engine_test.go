package services

import (
	"errors"
	"testing"
)

func TestCartQuoteEngine_FlatShippingBelowThreshold(t *testing.T) {
	engine := NewCartQuoteEngine()

	quote, err := engine.Price([]PricedLine{
		{ProductID: "prd_apples", UnitPrice: 1000, Quantity: 2},
	}, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}

	if quote.Subtotal != 2000 {
		t.Fatalf("subtotal = %d, want 2000", quote.Subtotal)
	}
	if quote.Shipping != 599 {
		t.Fatalf("shipping = %d, want 599", quote.Shipping)
	}
	if quote.Tax != 140 {
		t.Fatalf("tax = %d, want 140", quote.Tax)
	}
	if quote.Discount != 0 {
		t.Fatalf("discount = %d, want 0", quote.Discount)
	}
	if quote.Total != 2739 {
		t.Fatalf("total = %d, want 2739", quote.Total)
	}
}

func TestCartQuoteEngine_FreeShippingStrictlyAboveThreshold(t *testing.T) {
	engine := NewCartQuoteEngine()

	atThreshold, err := engine.Price([]PricedLine{
		{ProductID: "prd_rice", UnitPrice: 5000, Quantity: 1},
	}, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if atThreshold.Shipping != 599 {
		t.Fatalf("shipping at threshold = %d, want 599", atThreshold.Shipping)
	}

	aboveThreshold, err := engine.Price([]PricedLine{
		{ProductID: "prd_rice", UnitPrice: 5001, Quantity: 1},
	}, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if aboveThreshold.Shipping != 0 {
		t.Fatalf("shipping above threshold = %d, want 0", aboveThreshold.Shipping)
	}
}

func TestCartQuoteEngine_TaxRoundsHalfUp(t *testing.T) {
	engine := NewCartQuoteEngine()

	// 7% of 1050 is 73.5, which rounds up to 74.
	quote, err := engine.Price([]PricedLine{
		{ProductID: "prd_milk", UnitPrice: 1050, Quantity: 1},
	}, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if quote.Tax != 74 {
		t.Fatalf("tax = %d, want 74", quote.Tax)
	}
}

func TestCartQuoteEngine_Discount10Coupon(t *testing.T) {
	engine := NewCartQuoteEngine()

	quote, err := engine.Price([]PricedLine{
		{ProductID: "prd_bread", UnitPrice: 2000, Quantity: 1},
	}, "discount10")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}

	if quote.Discount != 200 {
		t.Fatalf("discount = %d, want 200", quote.Discount)
	}
	if quote.CouponCode != CouponDiscount10 {
		t.Fatalf("coupon code = %q, want %q", quote.CouponCode, CouponDiscount10)
	}
	if quote.Total != 2000+599+140-200 {
		t.Fatalf("total = %d, want %d", quote.Total, 2000+599+140-200)
	}
}

func TestCartQuoteEngine_FreeShipCouponMatchesShippingFee(t *testing.T) {
	engine := NewCartQuoteEngine()

	below, err := engine.Price([]PricedLine{
		{ProductID: "prd_eggs", UnitPrice: 1200, Quantity: 1},
	}, "FREESHIP")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if below.Discount != 599 {
		t.Fatalf("discount below threshold = %d, want 599", below.Discount)
	}

	above, err := engine.Price([]PricedLine{
		{ProductID: "prd_eggs", UnitPrice: 6000, Quantity: 1},
	}, "FREESHIP")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if above.Discount != 0 {
		t.Fatalf("discount above threshold = %d, want 0", above.Discount)
	}
}

func TestCartQuoteEngine_UnknownCouponResetsDiscount(t *testing.T) {
	engine := NewCartQuoteEngine()
	lines := []PricedLine{{ProductID: "prd_tea", UnitPrice: 2000, Quantity: 1}}

	quote, err := engine.Price(lines, "BOGUS")
	if !errors.Is(err, ErrQuoteUnknownCoupon) {
		t.Fatalf("Price error = %v, want ErrQuoteUnknownCoupon", err)
	}
	if quote.Discount != 0 {
		t.Fatalf("discount = %d, want 0", quote.Discount)
	}
	if quote.CouponCode != "" {
		t.Fatalf("coupon code = %q, want empty", quote.CouponCode)
	}
	if quote.Total != 2000+599+140 {
		t.Fatalf("total = %d, want %d", quote.Total, 2000+599+140)
	}
}

func TestCartQuoteEngine_EmptyCart(t *testing.T) {
	engine := NewCartQuoteEngine()

	quote, err := engine.Price(nil, "")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if quote.Subtotal != 0 || quote.Tax != 0 {
		t.Fatalf("subtotal/tax = %d/%d, want 0/0", quote.Subtotal, quote.Tax)
	}
	if quote.Shipping != 599 {
		t.Fatalf("shipping = %d, want 599", quote.Shipping)
	}
}

func TestCartQuoteEngine_RejectsInvalidLines(t *testing.T) {
	engine := NewCartQuoteEngine()

	cases := []struct {
		name string
		line PricedLine
	}{
		{"missing product", PricedLine{UnitPrice: 100, Quantity: 1}},
		{"zero quantity", PricedLine{ProductID: "prd_x", UnitPrice: 100, Quantity: 0}},
		{"negative price", PricedLine{ProductID: "prd_x", UnitPrice: -1, Quantity: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Price([]PricedLine{tc.line}, ""); !errors.Is(err, ErrQuoteInvalidInput) {
				t.Fatalf("Price error = %v, want ErrQuoteInvalidInput", err)
			}
		})
	}
}

func TestCart_AddLineMergesQuantities(t *testing.T) {
	var cart Cart
	cart.AddLine("prd_apples", 2)
	cart.AddLine("prd_apples", 3)
	cart.AddLine("prd_milk", 1)

	lines := cart.Lines()
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].ProductID != "prd_apples" || lines[0].Quantity != 5 {
		t.Fatalf("first line = %+v, want prd_apples x5", lines[0])
	}
}

func TestCart_SetQuantityZeroRemovesLine(t *testing.T) {
	var cart Cart
	cart.AddLine("prd_apples", 2)
	cart.SetQuantity("prd_apples", 0)

	if got := len(cart.Lines()); got != 0 {
		t.Fatalf("len(lines) = %d, want 0", got)
	}
}

func TestCart_RemoveAndClear(t *testing.T) {
	var cart Cart
	cart.AddLine("prd_a", 1)
	cart.AddLine("prd_b", 2)

	cart.RemoveLine("prd_a")
	if lines := cart.Lines(); len(lines) != 1 || lines[0].ProductID != "prd_b" {
		t.Fatalf("lines after remove = %+v", lines)
	}

	cart.Clear()
	if got := len(cart.Lines()); got != 0 {
		t.Fatalf("len(lines) after clear = %d, want 0", got)
	}
}
