package services

import (
	"context"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Role            = domain.Role
	UserAccount     = domain.UserAccount
	Product         = domain.Product
	CartLine        = domain.CartLine
	Quote           = domain.Quote
	Order           = domain.Order
	OrderLine       = domain.OrderLine
	OrderTotals     = domain.OrderTotals
	OrderStatus     = domain.OrderStatus
	ShippingDetails = domain.ShippingDetails
	PaymentDetails  = domain.PaymentDetails
	UserSummary     = domain.UserSummary
	ProductSummary  = domain.ProductSummary
	SystemHealth    = domain.SystemHealthReport
)

// IdentityService owns registration, login, and token issuance for
// first-party accounts.
type IdentityService interface {
	Register(ctx context.Context, cmd RegisterCommand) (AuthResult, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthResult, error)
	GetAccount(ctx context.Context, userID string) (UserAccount, error)
}

// RegisterCommand carries signup input. Any caller-supplied role is
// discarded before it reaches this layer; accounts always start as
// customers.
type RegisterCommand struct {
	DisplayName string
	Email       string
	Password    string
}

// LoginCommand carries credential-check input.
type LoginCommand struct {
	Email    string
	Password string
}

// AuthResult bundles the account with a freshly issued bearer token.
type AuthResult struct {
	Account   UserAccount
	Token     string
	ExpiresAt time.Time
}

// CatalogService manages products and operator-side catalog workflows.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error)
}

// UpsertProductCommand carries catalog mutations. UnitPrice is cents.
type UpsertProductCommand struct {
	ProductID   string
	ActorID     string
	Name        string
	Description string
	Category    string
	UnitPrice   int64
	Stock       int
	ImagePath   string
}

// DeleteProductCommand identifies the product to remove.
type DeleteProductCommand struct {
	ProductID string
	ActorID   string
}

// ProductListFilter controls catalog listings.
type ProductListFilter struct {
	Category   string
	Pagination Pagination
}

// ProductImageUploadCommand requests a signed upload slot for a product image.
type ProductImageUploadCommand struct {
	ProductID   string
	ActorID     string
	FileName    string
	ContentType string
}

// ProductImageUpload is the issued upload slot: a signed PUT URL and the
// object path to record on the product once the upload completes.
type ProductImageUpload struct {
	UploadURL string
	ImagePath string
	ExpiresAt time.Time
}

// QuoteService prices a set of cart lines without placing an order.
type QuoteService interface {
	QuoteCart(ctx context.Context, cmd QuoteCartCommand) (QuoteResult, error)
}

// QuoteCartCommand carries the cart contents to price.
type QuoteCartCommand struct {
	Lines      []CartLine
	CouponCode string
}

// QuoteResult carries the priced totals. CouponError is set when the
// supplied coupon code was not recognised; the quote itself still succeeds
// with a zero discount.
type QuoteResult struct {
	Quote       Quote
	CouponError string
}

// OrderService encapsulates placement, the status workflow, and read-side
// projections.
type OrderService interface {
	Place(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ListMine(ctx context.Context, cmd ListMyOrdersCommand) (domain.CursorPage[EnrichedOrder], error)
	ListAll(ctx context.Context, filter AdminOrderListFilter) (domain.CursorPage[EnrichedOrder], error)
	ExpirePendingOrders(ctx context.Context, cmd ExpirePendingOrdersCommand) (ExpiryReport, error)
}

// PlaceOrderCommand carries checkout input. ExpectedTotal, when non-nil, is
// the client-computed grand total in cents and must match the server-side
// recomputation exactly.
type PlaceOrderCommand struct {
	UserID        string
	Lines         []CartLine
	CouponCode    string
	ExpectedTotal *int64
	Shipping      ShippingDetails
	Payment       *PaymentInput
}

// PaymentInput is the optional payment section of a placement request.
// ProviderToken references a tokenized card at the payment provider and is
// verified, never stored.
type PaymentInput struct {
	Method        string
	ProviderToken string
}

// GetOrderCommand scopes a single-order read to the acting identity.
type GetOrderCommand struct {
	OrderID    string
	ActorID    string
	ActorRoles []string
}

// OrderStatusTransitionCommand is an operator-driven status change.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Reason       string
}

// CancelOrderCommand withdraws a pending order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// ListMyOrdersCommand scopes the customer listing.
type ListMyOrdersCommand struct {
	UserID     string
	Pagination Pagination
}

// AdminOrderListFilter controls the operator-side listing.
type AdminOrderListFilter struct {
	Status     []OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// ExpirePendingOrdersCommand cancels pending orders older than the cutoff.
type ExpirePendingOrdersCommand struct {
	OlderThan time.Duration
	ActorID   string
}

// ExpiryReport summarises a pending-order sweep.
type ExpiryReport struct {
	Scanned   int
	Cancelled int
}

// EnrichedOrder decorates an order with read-side projections for listings.
type EnrichedOrder struct {
	Order    Order
	Owner    *UserSummary
	Products map[string]ProductSummary
}

// SystemService surfaces build and dependency health information.
type SystemService interface {
	Health(ctx context.Context) (SystemHealth, error)
	Build() BuildInfo
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
