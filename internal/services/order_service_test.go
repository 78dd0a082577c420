package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn   func(ctx context.Context, order domain.Order, consume []repositories.StockAdjustment) error
	updateFn   func(ctx context.Context, order domain.Order, restock []repositories.StockAdjustment) error
	findByIDFn func(ctx context.Context, orderID string) (domain.Order, error)
	listFn     func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order, consume []repositories.StockAdjustment) error {
	if s.insertFn == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, order, consume)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order, restock []repositories.StockAdjustment) error {
	if s.updateFn == nil {
		return errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, order, restock)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn == nil {
		return domain.Order{}, errors.New("unexpected FindByID call")
	}
	return s.findByIDFn(ctx, orderID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("unexpected List call")
	}
	return s.listFn(ctx, filter)
}

type stubCounterRepo struct {
	nextFn func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn == nil {
		return 42, nil
	}
	return s.nextFn(ctx, counterID, step)
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type captureEventPublisher struct {
	events []OrderEvent
	err    error
}

func (p *captureEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type stubPaymentVerifier struct {
	verifyFn func(ctx context.Context, token string) (CardMetadata, error)
}

func (s *stubPaymentVerifier) VerifyCardToken(ctx context.Context, token string) (CardMetadata, error) {
	if s.verifyFn == nil {
		return CardMetadata{Brand: "visa", Last4: "4242"}, nil
	}
	return s.verifyFn(ctx, token)
}

func groceryCatalog() *stubProductRepo {
	return &stubProductRepo{
		findByIDsFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			all := map[string]domain.Product{
				"prd_apples": {ID: "prd_apples", Name: "Apples", UnitPrice: 1000, Stock: 10},
				"prd_milk":   {ID: "prd_milk", Name: "Milk", UnitPrice: 250, Stock: 5},
			}
			out := make(map[string]domain.Product)
			for _, id := range ids {
				if product, ok := all[id]; ok {
					out[id] = product
				}
			}
			return out, nil
		},
	}
}

func validShipping() domain.ShippingDetails {
	return domain.ShippingDetails{
		RecipientName: "Dana Shopper",
		Address:       "1 Market St",
		City:          "Springfield",
		PostalCode:    "12345",
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Products == nil {
		deps.Products = groceryCatalog()
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01TESTULID" }
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService error: %v", err)
	}
	return svc
}

func TestOrderService_PlaceComputesTotalsAndConsumesStock(t *testing.T) {
	ctx := context.Background()

	var insertedOrder domain.Order
	var consumed []repositories.StockAdjustment
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order, consume []repositories.StockAdjustment) error {
			insertedOrder = order
			consumed = consume
			return nil
		},
	}
	events := &captureEventPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: events})

	expected := int64(2739)
	placed, err := svc.Place(ctx, PlaceOrderCommand{
		UserID: "usr_dana",
		Lines: []CartLine{
			{ProductID: "prd_apples", Quantity: 1},
			{ProductID: "prd_apples", Quantity: 1},
		},
		ExpectedTotal: &expected,
		Shipping:      validShipping(),
	})
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}

	if placed.ID != "ord_01TESTULID" {
		t.Fatalf("order ID = %q, want ord_01TESTULID", placed.ID)
	}
	if placed.OrderNumber != "GB-2025-000042" {
		t.Fatalf("order number = %q, want GB-2025-000042", placed.OrderNumber)
	}
	if placed.Status != domain.OrderStatusPending {
		t.Fatalf("status = %q, want pending", placed.Status)
	}
	if placed.Totals.Subtotal != 2000 || placed.Totals.Shipping != 599 || placed.Totals.Tax != 140 || placed.Totals.Total != 2739 {
		t.Fatalf("totals = %+v", placed.Totals)
	}
	if len(insertedOrder.Lines) != 1 || insertedOrder.Lines[0].Quantity != 2 {
		t.Fatalf("lines were not merged: %+v", insertedOrder.Lines)
	}
	if insertedOrder.Lines[0].Name != "Apples" || insertedOrder.Lines[0].UnitPrice != 1000 {
		t.Fatalf("line snapshot = %+v", insertedOrder.Lines[0])
	}
	if len(consumed) != 1 || consumed[0].ProductID != "prd_apples" || consumed[0].Quantity != 2 {
		t.Fatalf("consume adjustments = %+v", consumed)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.created" {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestOrderService_PlaceRejectsTotalMismatch(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	wrong := int64(2000)
	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:        "usr_dana",
		Lines:         []CartLine{{ProductID: "prd_apples", Quantity: 2}},
		ExpectedTotal: &wrong,
		Shipping:      validShipping(),
	})
	if !errors.Is(err, ErrOrderTotalMismatch) {
		t.Fatalf("Place error = %v, want ErrOrderTotalMismatch", err)
	}
}

func TestOrderService_PlaceOutOfStock(t *testing.T) {
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order, []repositories.StockAdjustment) error {
			return repositories.NewStockError(repositories.StockErrorInsufficient, "prd_milk", "product prd_milk has 5 in stock, requested 8", nil)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:   "usr_dana",
		Lines:    []CartLine{{ProductID: "prd_milk", Quantity: 8}},
		Shipping: validShipping(),
	})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("Place error = %v, want ErrOrderOutOfStock", err)
	}
}

func TestOrderService_PlaceUnknownProduct(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:   "usr_dana",
		Lines:    []CartLine{{ProductID: "prd_ghost", Quantity: 1}},
		Shipping: validShipping(),
	})
	if !errors.Is(err, ErrOrderProductNotFound) {
		t.Fatalf("Place error = %v, want ErrOrderProductNotFound", err)
	}
}

func TestOrderService_PlaceUnknownCoupon(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:     "usr_dana",
		Lines:      []CartLine{{ProductID: "prd_apples", Quantity: 1}},
		CouponCode: "BOGUS",
		Shipping:   validShipping(),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("Place error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestOrderService_PlaceVerifiesCardToken(t *testing.T) {
	var insertedOrder domain.Order
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order, _ []repositories.StockAdjustment) error {
			insertedOrder = order
			return nil
		},
	}
	payments := &stubPaymentVerifier{
		verifyFn: func(_ context.Context, token string) (CardMetadata, error) {
			if token != "tok_123" {
				t.Fatalf("token = %q, want tok_123", token)
			}
			return CardMetadata{Brand: "visa", Last4: "4242"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: payments})

	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:   "usr_dana",
		Lines:    []CartLine{{ProductID: "prd_apples", Quantity: 1}},
		Shipping: validShipping(),
		Payment:  &PaymentInput{Method: "card", ProviderToken: "tok_123"},
	})
	if err != nil {
		t.Fatalf("Place error: %v", err)
	}

	if insertedOrder.Payment == nil || insertedOrder.Payment.CardBrand != "visa" || insertedOrder.Payment.CardLast4 != "4242" {
		t.Fatalf("payment = %+v", insertedOrder.Payment)
	}
}

func TestOrderService_PlaceCardTokenWithoutVerifier(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	_, err := svc.Place(context.Background(), PlaceOrderCommand{
		UserID:   "usr_dana",
		Lines:    []CartLine{{ProductID: "prd_apples", Quantity: 1}},
		Shipping: validShipping(),
		Payment:  &PaymentInput{Method: "card", ProviderToken: "tok_123"},
	})
	if !errors.Is(err, ErrOrderPaymentsUnavailable) {
		t.Fatalf("Place error = %v, want ErrOrderPaymentsUnavailable", err)
	}
}

func TestOrderService_GetOrderScopesToOwner(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "usr_owner", Status: domain.OrderStatusPending}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", ActorID: "usr_owner"}); err != nil {
		t.Fatalf("owner GetOrder error: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", ActorID: "usr_op", ActorRoles: []string{"operator"}}); err != nil {
		t.Fatalf("operator GetOrder error: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderCommand{OrderID: "ord_1", ActorID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("stranger GetOrder error = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderService_TransitionStatusFollowsTable(t *testing.T) {
	stored := domain.Order{
		ID:     "ord_1",
		UserID: "usr_owner",
		Status: domain.OrderStatusPending,
		Lines:  []domain.OrderLine{{ProductID: "prd_apples", Quantity: 2}},
	}
	var updated domain.Order
	var restocked []repositories.StockAdjustment
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order, restock []repositories.StockAdjustment) error {
			updated = order
			restocked = restock
			return nil
		},
	}
	events := &captureEventPublisher{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: events})

	result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusProcessing,
		ActorID:      "usr_op",
	})
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if result.Status != domain.OrderStatusProcessing {
		t.Fatalf("status = %q, want processing", result.Status)
	}
	if len(restocked) != 0 {
		t.Fatalf("restock = %+v, want none", restocked)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.status_changed" {
		t.Fatalf("events = %+v", events.events)
	}
	if updated.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not set")
	}
}

func TestOrderService_TransitionStatusRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		name   string
		from   domain.OrderStatus
		target domain.OrderStatus
	}{
		{"delivered is terminal", domain.OrderStatusDelivered, domain.OrderStatusPending},
		{"cancelled is terminal", domain.OrderStatusCancelled, domain.OrderStatusProcessing},
		{"shipped cannot revert", domain.OrderStatusShipped, domain.OrderStatusAccepted},
		{"pending cannot deliver", domain.OrderStatusPending, domain.OrderStatusDelivered},
		{"same status", domain.OrderStatusPending, domain.OrderStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderRepo{
				findByIDFn: func(context.Context, string) (domain.Order, error) {
					return domain.Order{ID: "ord_1", Status: tc.from}, nil
				},
			}
			svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

			_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderID:      "ord_1",
				TargetStatus: tc.target,
			})
			if !errors.Is(err, ErrOrderInvalidTransition) {
				t.Fatalf("TransitionStatus error = %v, want ErrOrderInvalidTransition", err)
			}
		})
	}
}

func TestOrderService_TransitionStatusUnknownStatus(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: "exploded",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("TransitionStatus error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestOrderService_TransitionStatusPermissiveMode(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusDelivered}, nil
		},
		updateFn: func(context.Context, domain.Order, []repositories.StockAdjustment) error { return nil },
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, PermissiveTransitions: true})

	result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if result.Status != domain.OrderStatusPending {
		t.Fatalf("status = %q, want pending", result.Status)
	}
}

func TestOrderService_PermissiveModeRestocksOnlyHeldStock(t *testing.T) {
	cases := []struct {
		name        string
		from        domain.OrderStatus
		target      domain.OrderStatus
		wantRestock bool
	}{
		{"cancelled to rejected keeps stock", domain.OrderStatusCancelled, domain.OrderStatusRejected, false},
		{"rejected to cancelled keeps stock", domain.OrderStatusRejected, domain.OrderStatusCancelled, false},
		{"shipped to cancelled keeps stock", domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{"delivered to cancelled keeps stock", domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{"processing to rejected restocks", domain.OrderStatusProcessing, domain.OrderStatusRejected, true},
		{"accepted to cancelled restocks", domain.OrderStatusAccepted, domain.OrderStatusCancelled, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stored := domain.Order{
				ID:     "ord_1",
				Status: tc.from,
				Lines:  []domain.OrderLine{{ProductID: "prd_apples", Quantity: 2}},
			}
			var restocked []repositories.StockAdjustment
			orders := &stubOrderRepo{
				findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
				updateFn: func(_ context.Context, _ domain.Order, restock []repositories.StockAdjustment) error {
					restocked = restock
					return nil
				},
			}
			svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, PermissiveTransitions: true})

			if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
				OrderID:      "ord_1",
				TargetStatus: tc.target,
			}); err != nil {
				t.Fatalf("TransitionStatus error: %v", err)
			}

			if tc.wantRestock && len(restocked) != 1 {
				t.Fatalf("restock = %+v, want one adjustment", restocked)
			}
			if !tc.wantRestock && len(restocked) != 0 {
				t.Fatalf("restock = %+v, want none", restocked)
			}
		})
	}
}

func TestOrderService_PermissiveModeSameStatusIsNoOp(t *testing.T) {
	stored := domain.Order{ID: "ord_1", Status: domain.OrderStatusDelivered}
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
	}
	events := &captureEventPublisher{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: events, PermissiveTransitions: true})

	result, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}
	if result.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %q, want delivered", result.Status)
	}
	if len(events.events) != 0 {
		t.Fatalf("events = %+v, want none", events.events)
	}
}

func TestOrderService_RejectionRestocksLines(t *testing.T) {
	stored := domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ProductID: "prd_apples", Quantity: 2},
			{ProductID: "prd_milk", Quantity: 1},
		},
	}
	var restocked []repositories.StockAdjustment
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order, restock []repositories.StockAdjustment) error {
			restocked = restock
			if order.RejectedAt == nil {
				t.Fatal("RejectedAt not set")
			}
			return nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusRejected,
	}); err != nil {
		t.Fatalf("TransitionStatus error: %v", err)
	}

	if len(restocked) != 2 || restocked[0].Quantity != 2 || restocked[1].Quantity != 1 {
		t.Fatalf("restock = %+v", restocked)
	}
}

func TestOrderService_CancelPendingByOwner(t *testing.T) {
	stored := domain.Order{
		ID:     "ord_1",
		UserID: "usr_owner",
		Status: domain.OrderStatusPending,
		Lines:  []domain.OrderLine{{ProductID: "prd_apples", Quantity: 1}},
	}
	var updated domain.Order
	var restocked []repositories.StockAdjustment
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order, restock []repositories.StockAdjustment) error {
			updated = order
			restocked = restock
			return nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	result, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		ActorID: "usr_owner",
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	if result.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", result.Status)
	}
	if updated.CancelReason == nil || *updated.CancelReason != "changed my mind" {
		t.Fatalf("cancel reason = %v", updated.CancelReason)
	}
	if updated.CanceledAt == nil {
		t.Fatal("CanceledAt not set")
	}
	if len(restocked) != 1 {
		t.Fatalf("restock = %+v", restocked)
	}
}

func TestOrderService_CancelRules(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "usr_owner", Status: domain.OrderStatusShipped}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "usr_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("stranger Cancel error = %v, want ErrOrderNotFound", err)
	}
	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "usr_owner"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("shipped Cancel error = %v, want ErrOrderInvalidTransition", err)
	}
}

func TestOrderService_ListMineEnrichesProducts(t *testing.T) {
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if filter.UserID != "usr_dana" {
				t.Fatalf("filter user = %q, want usr_dana", filter.UserID)
			}
			return domain.CursorPage[domain.Order]{
				Items: []domain.Order{
					{ID: "ord_2", UserID: "usr_dana", Lines: []domain.OrderLine{{ProductID: "prd_apples", Quantity: 1}}},
					{ID: "ord_1", UserID: "usr_dana", Lines: []domain.OrderLine{{ProductID: "prd_ghost", Quantity: 1}}},
				},
				NextPageToken: "next",
			}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	page, err := svc.ListMine(context.Background(), ListMyOrdersCommand{UserID: "usr_dana"})
	if err != nil {
		t.Fatalf("ListMine error: %v", err)
	}

	if len(page.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(page.Items))
	}
	if page.NextPageToken != "next" {
		t.Fatalf("page token = %q, want next", page.NextPageToken)
	}
	if summary, ok := page.Items[0].Products["prd_apples"]; !ok || summary.Name != "Apples" {
		t.Fatalf("first order products = %+v", page.Items[0].Products)
	}
	// Deleted products simply drop out of the enrichment map.
	if _, ok := page.Items[1].Products["prd_ghost"]; ok {
		t.Fatalf("second order products = %+v", page.Items[1].Products)
	}
}

func TestOrderService_ListAllEnrichesOwners(t *testing.T) {
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			if filter.UserID != "" {
				t.Fatalf("filter user = %q, want empty", filter.UserID)
			}
			return domain.CursorPage[domain.Order]{
				Items: []domain.Order{
					{ID: "ord_1", UserID: "usr_dana"},
					{ID: "ord_2", UserID: "usr_gone"},
				},
			}, nil
		},
	}
	users := &stubUserRepo{
		findByIDsFn: func(_ context.Context, ids []string) (map[string]domain.UserAccount, error) {
			return map[string]domain.UserAccount{
				"usr_dana": {ID: "usr_dana", DisplayName: "Dana", Email: "dana@example.com"},
			}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Users: users})

	page, err := svc.ListAll(context.Background(), AdminOrderListFilter{})
	if err != nil {
		t.Fatalf("ListAll error: %v", err)
	}

	if page.Items[0].Owner == nil || page.Items[0].Owner.DisplayName != "Dana" {
		t.Fatalf("first owner = %+v", page.Items[0].Owner)
	}
	if page.Items[1].Owner != nil {
		t.Fatalf("second owner = %+v, want nil for missing account", page.Items[1].Owner)
	}
}

func TestOrderService_ExpirePendingOrders(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)
	stale := []domain.Order{
		{ID: "ord_old1", Status: domain.OrderStatusPending, Lines: []domain.OrderLine{{ProductID: "prd_apples", Quantity: 1}}},
		{ID: "ord_old2", Status: domain.OrderStatusPending},
	}

	var listedFilter repositories.OrderListFilter
	var updates []string
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			listedFilter = filter
			return domain.CursorPage[domain.Order]{Items: stale}, nil
		},
		updateFn: func(_ context.Context, order domain.Order, _ []repositories.StockAdjustment) error {
			if order.Status != domain.OrderStatusCancelled {
				t.Fatalf("expired order status = %q, want cancelled", order.Status)
			}
			updates = append(updates, order.ID)
			return nil
		},
	}
	events := &captureEventPublisher{}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orders,
		Events: events,
		Clock:  func() time.Time { return now },
	})

	report, err := svc.ExpirePendingOrders(context.Background(), ExpirePendingOrdersCommand{
		OlderThan: 48 * time.Hour,
		ActorID:   "system",
	})
	if err != nil {
		t.Fatalf("ExpirePendingOrders error: %v", err)
	}

	if report.Scanned != 2 || report.Cancelled != 2 {
		t.Fatalf("report = %+v", report)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %v", updates)
	}
	if listedFilter.DateRange.To == nil || !listedFilter.DateRange.To.Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("cutoff = %v", listedFilter.DateRange.To)
	}
	if len(listedFilter.Status) != 1 || listedFilter.Status[0] != domain.OrderStatusPending {
		t.Fatalf("status filter = %v", listedFilter.Status)
	}
	if len(events.events) != 2 {
		t.Fatalf("events = %+v", events.events)
	}
}
