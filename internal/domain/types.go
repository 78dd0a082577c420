package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role identifies the authorization tier of a user account.
type Role string

const (
	// RoleCustomer is the default role assigned at registration.
	RoleCustomer Role = "customer"
	// RoleOperator marks staff accounts allowed to manage catalog and orders.
	RoleOperator Role = "operator"
)

// UserAccount is a first-party identity record. Email is unique and stored
// lowercased; PasswordHash holds a bcrypt digest and never leaves the
// repository layer in API responses.
type UserAccount struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product is a catalog entry. UnitPrice is in cents; Stock never goes
// negative (enforced transactionally at order placement).
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	UnitPrice   int64
	Stock       int
	ImagePath   string
	SearchTerms []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartLine is a client-held (product, quantity) pair submitted for quoting
// and order placement. Carts are not persisted server-side.
type CartLine struct {
	ProductID string
	Quantity  int
}

// Quote is the pricing breakdown computed for a set of cart lines. All
// amounts are cents.
type Quote struct {
	Subtotal   int64
	Shipping   int64
	Tax        int64
	Discount   int64
	Total      int64
	CouponCode string
}

// OrderStatus enumerates the order workflow states.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after placement.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates an operator has started handling the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusAccepted indicates the order was approved for fulfilment.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusRejected indicates the order was declined. Terminal.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was withdrawn. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every legal status value, used for enum membership
// checks at the boundary.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusAccepted,
		OrderStatusRejected,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderLine snapshots a purchased product at placement time. Name and
// UnitPrice are copied from the catalog so later product edits or deletions
// do not rewrite order history.
type OrderLine struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
}

// OrderTotals captures the priced breakdown persisted with the order.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Discount int64
	Total    int64
}

// ShippingDetails is the delivery destination recorded on an order.
type ShippingDetails struct {
	RecipientName string
	Address       string
	City          string
	PostalCode    string
}

// PaymentDetails stores the optional payment summary attached at placement.
// CardBrand and CardLast4 are filled from provider verification when a card
// token is supplied; raw card data is never stored.
type PaymentDetails struct {
	Method    string
	CardBrand string
	CardLast4 string
}

// Order is the aggregate produced at checkout. UserID is immutable; Status
// is the only field operators mutate afterwards.
type Order struct {
	ID           string
	OrderNumber  string
	UserID       string
	Lines        []OrderLine
	Totals       OrderTotals
	CouponCode   string
	Shipping     ShippingDetails
	Payment      *PaymentDetails
	Status       OrderStatus
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AcceptedAt   *time.Time
	RejectedAt   *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CanceledAt   *time.Time
}

// UserSummary is the owner projection embedded in operator order listings.
type UserSummary struct {
	ID          string
	DisplayName string
	Email       string
}

// ProductSummary is the catalog projection embedded in enriched order
// listings. Price reflects the current catalog price, not the order
// snapshot.
type ProductSummary struct {
	ID        string
	Name      string
	UnitPrice int64
	ImagePath string
}
