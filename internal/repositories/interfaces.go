package repositories

import (
	"context"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Products() ProductRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserRepository stores first-party accounts. Insert must fail with a
// conflict RepositoryError when the email is already registered.
type UserRepository interface {
	Insert(ctx context.Context, account domain.UserAccount) error
	Update(ctx context.Context, account domain.UserAccount) error
	FindByID(ctx context.Context, userID string) (domain.UserAccount, error)
	FindByEmail(ctx context.Context, email string) (domain.UserAccount, error)
	FindByIDs(ctx context.Context, userIDs []string) (map[string]domain.UserAccount, error)
}

// ProductRepository persists catalog entries.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// StockAdjustment names a product whose stock changes together with an order
// write. Quantity is always positive; the operation decides direction.
type StockAdjustment struct {
	ProductID string
	Quantity  int
}

// OrderRepository persists order aggregates. Insert decrements stock for the
// given adjustments in the same transaction as the order write and must fail
// with a StockError carrying StockErrorInsufficient when any product cannot
// cover its quantity. Update optionally restores stock the same way.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order, consume []StockAdjustment) error
	Update(ctx context.Context, order domain.Order, restock []StockAdjustment) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Category   string
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
