package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	orderIDPrefix      = "ord_"
	orderNumberPattern = "GB-%d-%06d"

	expirySweepPageSize = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located, or the
	// caller is not allowed to know whether it exists.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates a line references an unknown product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderTotalMismatch indicates the client-computed total disagrees
	// with the server-side recomputation.
	ErrOrderTotalMismatch = errors.New("order: total mismatch")
	// ErrOrderOutOfStock indicates a line could not be covered by stock.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderInvalidTransition indicates a disallowed status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent-modification conflict.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentsUnavailable indicates a card token was supplied but no
	// payment verifier is configured.
	ErrOrderPaymentsUnavailable = errors.New("order: payment verification not configured")
)

// orderStateTransitions is the strict workflow table. Statuses absent from
// the map are terminal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusAccepted, domain.OrderStatusRejected, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusAccepted, domain.OrderStatusRejected, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusAccepted:   {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// restockStatuses are the targets that return reserved stock to the catalog.
var restockStatuses = []domain.OrderStatus{
	domain.OrderStatusRejected,
	domain.OrderStatusCancelled,
}

// stockHeldStatuses are the states in which an order's lines still reserve
// catalog stock. Shipped goods have left the warehouse, and terminal states
// restocked on entry, so neither may restock again.
var stockHeldStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
	domain.OrderStatusAccepted,
}

// PaymentVerifier resolves a provider card token into displayable metadata.
// Tokens are verified at placement and never stored.
type PaymentVerifier interface {
	VerifyCardToken(ctx context.Context, token string) (CardMetadata, error)
}

// CardMetadata is the stored projection of a verified card.
type CardMetadata struct {
	Brand string
	Last4 string
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Users    repositories.UserRepository
	Counters repositories.CounterRepository
	Engine   *CartQuoteEngine
	Payments PaymentVerifier
	Events   OrderEventPublisher
	// PermissiveTransitions relaxes the workflow table to bare enum
	// membership for deployments that still rely on free-form status edits.
	PermissiveTransitions bool
	Clock                 func() time.Time
	IDGenerator           func() string
	Logger                func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	users      repositories.UserRepository
	counters   repositories.CounterRepository
	engine     *CartQuoteEngine
	payments   PaymentVerifier
	events     OrderEventPublisher
	permissive bool
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	engine := deps.Engine
	if engine == nil {
		engine = NewCartQuoteEngine()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		users:      deps.Users,
		counters:   deps.Counters,
		engine:     engine,
		payments:   deps.Payments,
		events:     deps.Events,
		permissive: deps.PermissiveTransitions,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Place validates the cart against the live catalog, recomputes every total
// server-side, and inserts the order atomically with the stock decrement.
func (s *orderService) Place(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	if err := validateShippingDetails(cmd.Shipping); err != nil {
		return Order{}, err
	}

	var cart Cart
	for _, line := range cmd.Lines {
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity %d for product %q", ErrOrderInvalidInput, line.Quantity, line.ProductID)
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
		return Order{}, fmt.Errorf("resolve order products: %w", err)
	}

	priced := make([]PricedLine, 0, len(merged))
	orderLines := make([]domain.OrderLine, 0, len(merged))
	consume := make([]repositories.StockAdjustment, 0, len(merged))
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, line.ProductID)
		}
		priced = append(priced, PricedLine{ProductID: product.ID, UnitPrice: product.UnitPrice, Quantity: line.Quantity})
		orderLines = append(orderLines, domain.OrderLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  line.Quantity,
		})
		consume = append(consume, repositories.StockAdjustment{ProductID: product.ID, Quantity: line.Quantity})
	}

	quote, err := s.engine.Price(priced, cmd.CouponCode)
	if err != nil {
		if errors.Is(err, ErrQuoteUnknownCoupon) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, err
	}
	if cmd.ExpectedTotal != nil && *cmd.ExpectedTotal != quote.Total {
		return Order{}, fmt.Errorf("%w: client total %d, server total %d", ErrOrderTotalMismatch, *cmd.ExpectedTotal, quote.Total)
	}

	payment, err := s.resolvePayment(ctx, cmd.Payment)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, fmt.Errorf("generate order number: %w", err)
	}

	order := domain.Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		UserID:      cmd.UserID,
		Lines:       orderLines,
		Totals: domain.OrderTotals{
			Subtotal: quote.Subtotal,
			Shipping: quote.Shipping,
			Tax:      quote.Tax,
			Discount: quote.Discount,
			Total:    quote.Total,
		},
		CouponCode: quote.CouponCode,
		Shipping:   cmd.Shipping,
		Payment:    payment,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.orders.Insert(ctx, order, consume); err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			switch stockErr.Code {
			case repositories.StockErrorProductNotFound:
				return Order{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, stockErr.ProductID)
			default:
				return Order{}, fmt.Errorf("%w: %s", ErrOrderOutOfStock, stockErr.ProductID)
			}
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"user_id":      order.UserID,
		"total":        order.Totals.Total,
	})
	s.publish(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.UserID,
		OccurredAt:    now,
	})
	return order, nil
}

// GetOrder loads a single order for its owner or any operator. Callers that
// own nothing here get a not-found rather than a forbidden, so order IDs do
// not leak existence.
func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != cmd.ActorID && !hasOperatorRole(cmd.ActorRoles) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, cmd.OrderID)
	}
	return order, nil
}

// TransitionStatus applies an operator status change, restocking the order's
// lines when it moves into a restocking terminal state while stock is still
// held.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	target := cmd.TargetStatus
	if !slices.Contains(domain.OrderStatuses(), target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if target == order.Status {
		if s.permissive {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: order is already %s", ErrOrderInvalidTransition, target)
	}
	if !s.permissive && !slices.Contains(orderStateTransitions[order.Status], target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	previous := order.Status
	now := s.clock()
	order.Status = target
	order.UpdatedAt = now
	if reason := strings.TrimSpace(cmd.Reason); reason != "" && target == domain.OrderStatusCancelled {
		order.CancelReason = &reason
	}
	applyStatusTimestamp(&order, target, now)

	if err := s.orders.Update(ctx, order, s.restockFor(order, previous, target)); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"order_id": order.ID,
		"from":     string(previous),
		"to":       string(target),
		"actor_id": cmd.ActorID,
	})
	s.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})
	return order, nil
}

// Cancel withdraws a pending order on behalf of its owner.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != cmd.ActorID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, cmd.OrderID)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrOrderInvalidTransition, order.Status)
	}

	previous := order.Status
	now := s.clock()
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	order.CanceledAt = &now
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		order.CancelReason = &reason
	}

	if err := s.orders.Update(ctx, order, s.restockFor(order, previous, order.Status)); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{"order_id": order.ID, "actor_id": cmd.ActorID})
	s.publish(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})
	return order, nil
}

// ListMine returns the caller's orders newest first, decorated with product
// summaries for the storefront history page.
func (s *orderService) ListMine(ctx context.Context, cmd ListMyOrdersCommand) (domain.CursorPage[EnrichedOrder], error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return domain.CursorPage[EnrichedOrder]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     cmd.UserID,
		Pagination: cmd.Pagination,
	})
	if err != nil {
		return domain.CursorPage[EnrichedOrder]{}, s.mapRepositoryError(err)
	}

	summaries, err := s.productSummaries(ctx, page.Items)
	if err != nil {
		return domain.CursorPage[EnrichedOrder]{}, err
	}

	enriched := make([]EnrichedOrder, 0, len(page.Items))
	for _, order := range page.Items {
		enriched = append(enriched, EnrichedOrder{
			Order:    order,
			Products: summariesFor(order, summaries),
		})
	}
	return domain.CursorPage[EnrichedOrder]{Items: enriched, NextPageToken: page.NextPageToken}, nil
}

// ListAll returns orders across all customers, decorated with owner
// summaries for the operator dashboard.
func (s *orderService) ListAll(ctx context.Context, filter AdminOrderListFilter) (domain.CursorPage[EnrichedOrder], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:     filter.Status,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[EnrichedOrder]{}, s.mapRepositoryError(err)
	}

	owners := map[string]domain.UserAccount{}
	if s.users != nil && len(page.Items) > 0 {
		seen := make(map[string]struct{})
		ids := make([]string, 0, len(page.Items))
		for _, order := range page.Items {
			if _, ok := seen[order.UserID]; ok {
				continue
			}
			seen[order.UserID] = struct{}{}
			ids = append(ids, order.UserID)
		}
		owners, err = s.users.FindByIDs(ctx, ids)
		if err != nil {
			return domain.CursorPage[EnrichedOrder]{}, fmt.Errorf("resolve order owners: %w", err)
		}
	}

	enriched := make([]EnrichedOrder, 0, len(page.Items))
	for _, order := range page.Items {
		item := EnrichedOrder{Order: order}
		if owner, ok := owners[order.UserID]; ok {
			item.Owner = &domain.UserSummary{ID: owner.ID, DisplayName: owner.DisplayName, Email: owner.Email}
		}
		enriched = append(enriched, item)
	}
	return domain.CursorPage[EnrichedOrder]{Items: enriched, NextPageToken: page.NextPageToken}, nil
}

// ExpirePendingOrders cancels pending orders created before the cutoff. It
// pages through matches so a scheduled sweep stays bounded per invocation.
func (s *orderService) ExpirePendingOrders(ctx context.Context, cmd ExpirePendingOrdersCommand) (ExpiryReport, error) {
	if cmd.OlderThan <= 0 {
		return ExpiryReport{}, fmt.Errorf("%w: expiry window must be positive", ErrOrderInvalidInput)
	}

	cutoff := s.clock().Add(-cmd.OlderThan)
	report := ExpiryReport{}
	pageToken := ""
	for {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{
			Status:     []domain.OrderStatus{domain.OrderStatusPending},
			DateRange:  domain.RangeQuery[time.Time]{To: &cutoff},
			Pagination: domain.Pagination{PageSize: expirySweepPageSize, PageToken: pageToken},
		})
		if err != nil {
			return report, s.mapRepositoryError(err)
		}

		for _, order := range page.Items {
			report.Scanned++
			now := s.clock()
			previous := order.Status
			reason := "expired after " + cmd.OlderThan.String() + " without processing"
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = &reason
			order.CanceledAt = &now
			order.UpdatedAt = now

			if err := s.orders.Update(ctx, order, s.restockFor(order, previous, order.Status)); err != nil {
				s.logger(ctx, "order.expiry_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
				continue
			}
			report.Cancelled++
			s.publish(ctx, OrderEvent{
				Type:           orderEventStatusChanged,
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				UserID:         order.UserID,
				PreviousStatus: string(previous),
				CurrentStatus:  string(order.Status),
				ActorID:        cmd.ActorID,
				OccurredAt:     now,
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return report, nil
		}
	}
}

func (s *orderService) resolvePayment(ctx context.Context, input *PaymentInput) (*domain.PaymentDetails, error) {
	if input == nil {
		return nil, nil
	}
	method := strings.TrimSpace(input.Method)
	if method == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	details := &domain.PaymentDetails{Method: method}
	if token := strings.TrimSpace(input.ProviderToken); token != "" {
		if s.payments == nil {
			return nil, ErrOrderPaymentsUnavailable
		}
		card, err := s.payments.VerifyCardToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		details.CardBrand = card.Brand
		details.CardLast4 = card.Last4
	}
	return details, nil
}

func (s *orderService) productSummaries(ctx context.Context, orders []domain.Order) (map[string]domain.ProductSummary, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, order := range orders {
		for _, line := range order.Lines {
			if _, ok := seen[line.ProductID]; ok {
				continue
			}
			seen[line.ProductID] = struct{}{}
			ids = append(ids, line.ProductID)
		}
	}
	if len(ids) == 0 {
		return map[string]domain.ProductSummary{}, nil
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve order products: %w", err)
	}
	summaries := make(map[string]domain.ProductSummary, len(products))
	for id, product := range products {
		summaries[id] = domain.ProductSummary{
			ID:        product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			ImagePath: product.ImagePath,
		}
	}
	return summaries, nil
}

// summariesFor keeps only the summaries referenced by the order's lines.
// Deleted products simply drop out; the line still carries its own snapshot.
func summariesFor(order domain.Order, summaries map[string]domain.ProductSummary) map[string]domain.ProductSummary {
	out := make(map[string]domain.ProductSummary)
	for _, line := range order.Lines {
		if summary, ok := summaries[line.ProductID]; ok {
			out[line.ProductID] = summary
		}
	}
	return out
}

func (s *orderService) restockFor(order domain.Order, previous, target domain.OrderStatus) []repositories.StockAdjustment {
	if !slices.Contains(restockStatuses, target) || !slices.Contains(stockHeldStatuses, previous) {
		return nil
	}
	restock := make([]repositories.StockAdjustment, 0, len(order.Lines))
	for _, line := range order.Lines {
		restock = append(restock, repositories.StockAdjustment{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return restock
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(orderNumberPattern, now.Year(), seq), nil
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"order_id": event.OrderID,
			"type":     event.Type,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func applyStatusTimestamp(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusAccepted:
		order.AcceptedAt = &now
	case domain.OrderStatusRejected:
		order.RejectedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CanceledAt == nil {
			order.CanceledAt = &now
		}
	}
}

func validateShippingDetails(details domain.ShippingDetails) error {
	switch {
	case strings.TrimSpace(details.RecipientName) == "":
		return fmt.Errorf("%w: shipping recipient is required", ErrOrderInvalidInput)
	case strings.TrimSpace(details.Address) == "":
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	case strings.TrimSpace(details.City) == "":
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	case strings.TrimSpace(details.PostalCode) == "":
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	return nil
}

func hasOperatorRole(roles []string) bool {
	return slices.Contains(roles, string(domain.RoleOperator))
}
