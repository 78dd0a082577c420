package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const orderCollection = "orders"

const (
	defaultOrderPageSize = 50
	maxOrderPageSize     = 100
)

// OrderRepository persists order aggregates in Firestore. Stock mutations
// ride in the same transaction as the order write so placements cannot
// oversell under concurrent checkouts.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
	}, nil
}

// Insert creates the order document and decrements stock for every
// adjustment in one transaction. Any product that cannot cover its quantity
// aborts the whole placement with a StockError.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, consume []repositories.StockAdjustment) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.adjustStock(ctx, tx, consume, -1); err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
	return wrapStockAware("orders.insert", err)
}

// Update rewrites the order document, optionally restoring stock in the same
// transaction (used when a cancellation or rejection returns inventory).
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, restock []repositories.StockAdjustment) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	doc := fromDomainOrder(order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.adjustStock(ctx, tx, restock, 1); err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Set(orderRef, doc)
	})
	return wrapStockAware("orders.update", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest-first, filtered by owner, status set, and
// creation date range.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := client.Collection(orderCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{CreatedAt: last.CreatedAt.UTC(), ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// adjustStock applies quantity*sign to every product's stock inside tx.
// Reads happen before any write, sorted by product ID so concurrent
// transactions acquire documents in a stable order.
func (r *OrderRepository) adjustStock(ctx context.Context, tx *firestore.Transaction, adjustments []repositories.StockAdjustment, sign int) error {
	if len(adjustments) == 0 {
		return nil
	}

	merged := make(map[string]int, len(adjustments))
	for _, adj := range adjustments {
		id := strings.TrimSpace(adj.ProductID)
		if id == "" || adj.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, id, "stock adjustment requires product id and positive quantity", nil)
		}
		merged[id] += adj.Quantity
	}
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type pendingWrite struct {
		ref   *firestore.DocumentRef
		stock int
	}
	writes := make([]pendingWrite, 0, len(ids))
	for _, id := range ids {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}
		next := doc.Stock + sign*merged[id]
		if next < 0 {
			return repositories.NewStockError(repositories.StockErrorInsufficient, id, fmt.Sprintf("product %s has %d in stock, requested %d", id, doc.Stock, merged[id]), nil)
		}
		writes = append(writes, pendingWrite{ref: ref, stock: next})
	}
	for _, w := range writes {
		if err := tx.Update(w.ref, []firestore.Update{{Path: "stock", Value: w.stock}}); err != nil {
			return err
		}
	}
	return nil
}

// wrapStockAware keeps typed stock errors intact while mapping everything
// else through the shared Firestore wrapper.
func wrapStockAware(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

type orderDocument struct {
	OrderNumber  string              `firestore:"orderNumber"`
	UserID       string              `firestore:"userId"`
	Lines        []orderLineDocument `firestore:"lines"`
	Totals       orderTotalsDocument `firestore:"totals"`
	CouponCode   string              `firestore:"couponCode,omitempty"`
	Shipping     shippingDocument    `firestore:"shipping"`
	Payment      *paymentDocument    `firestore:"payment,omitempty"`
	Status       string              `firestore:"status"`
	CancelReason *string             `firestore:"cancelReason,omitempty"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	AcceptedAt   *time.Time          `firestore:"acceptedAt,omitempty"`
	RejectedAt   *time.Time          `firestore:"rejectedAt,omitempty"`
	ShippedAt    *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt  *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt   *time.Time          `firestore:"canceledAt,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type shippingDocument struct {
	RecipientName string `firestore:"recipientName"`
	Address       string `firestore:"address"`
	City          string `firestore:"city"`
	PostalCode    string `firestore:"postalCode"`
}

type paymentDocument struct {
	Method    string `firestore:"method"`
	CardBrand string `firestore:"cardBrand,omitempty"`
	CardLast4 string `firestore:"cardLast4,omitempty"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Lines:       lines,
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Shipping: d.Totals.Shipping,
			Tax:      d.Totals.Tax,
			Discount: d.Totals.Discount,
			Total:    d.Totals.Total,
		},
		CouponCode: d.CouponCode,
		Shipping: domain.ShippingDetails{
			RecipientName: d.Shipping.RecipientName,
			Address:       d.Shipping.Address,
			City:          d.Shipping.City,
			PostalCode:    d.Shipping.PostalCode,
		},
		Status:       domain.OrderStatus(d.Status),
		CancelReason: d.CancelReason,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		AcceptedAt:   d.AcceptedAt,
		RejectedAt:   d.RejectedAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		CanceledAt:   d.CanceledAt,
	}
	if d.Payment != nil {
		order.Payment = &domain.PaymentDetails{
			Method:    d.Payment.Method,
			CardBrand: d.Payment.CardBrand,
			CardLast4: d.Payment.CardLast4,
		}
	}
	return order
}

func fromDomainOrder(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Lines:       lines,
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		CouponCode: order.CouponCode,
		Shipping: shippingDocument{
			RecipientName: order.Shipping.RecipientName,
			Address:       order.Shipping.Address,
			City:          order.Shipping.City,
			PostalCode:    order.Shipping.PostalCode,
		},
		Status:       string(order.Status),
		CancelReason: order.CancelReason,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		AcceptedAt:   order.AcceptedAt,
		RejectedAt:   order.RejectedAt,
		ShippedAt:    order.ShippedAt,
		DeliveredAt:  order.DeliveredAt,
		CanceledAt:   order.CanceledAt,
	}
	if order.Payment != nil {
		doc.Payment = &paymentDocument{
			Method:    order.Payment.Method,
			CardBrand: order.Payment.CardBrand,
			CardLast4: order.Payment.CardLast4,
		}
	}
	return doc
}

type orderPageToken struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeOrderPageToken(encoded string) (orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return orderPageToken{}, fmt.Errorf("invalid page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return orderPageToken{}, fmt.Errorf("invalid page token: %w", err)
	}
	return token, nil
}
