package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/config"
	"github.com/greenbasket/api/internal/repositories"
	"github.com/greenbasket/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Identity services.IdentityService
	Catalog  services.CatalogService
	Quotes   services.QuoteService
	Orders   services.OrderService
	System   services.SystemService
}

// Dependencies carries the external adapters that services are wired against.
// Registry and Tokens are required; the rest degrade gracefully when nil
// (uploads unavailable, card payments rejected, events dropped).
type Dependencies struct {
	Registry repositories.Registry
	Tokens   services.TokenIssuer
	Payments services.PaymentVerifier
	Events   services.OrderEventPublisher
	Uploads  services.ImageUploadSigner
	Logger   *zap.Logger
	Build    services.BuildInfo
	Clock    func() time.Time
}

// Container wires repositories, services, and the request authenticator for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// adapters, while tests can supply in-memory registries and stubs.
func NewContainer(ctx context.Context, cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Dependencies) (Services, error) {
	var svc Services

	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	identitySvc, err := services.NewIdentityService(services.IdentityServiceDeps{
		Users:      reg.Users(),
		Tokens:     deps.Tokens,
		BcryptCost: cfg.Auth.BcryptCost,
		Clock:      clock,
		Logger:     EventLogger(logger.Named("identity")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build identity service: %w", err)
	}
	svc.Identity = identitySvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:  reg.Products(),
		Uploads:   deps.Uploads,
		UploadTTL: cfg.Storage.UploadTTL,
		Clock:     clock,
		Logger:    EventLogger(logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	engine := services.NewCartQuoteEngine()

	quoteSvc, err := services.NewQuoteService(services.QuoteServiceDeps{
		Products: reg.Products(),
		Engine:   engine,
		Logger:   EventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}
	svc.Quotes = quoteSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:                reg.Orders(),
		Products:              reg.Products(),
		Users:                 reg.Users(),
		Counters:              reg.Counters(),
		Engine:                engine,
		Payments:              deps.Payments,
		Events:                deps.Events,
		PermissiveTransitions: cfg.Orders.PermissiveTransitions,
		Clock:                 clock,
		Logger:                EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// NewAuthenticator builds the bearer-token authenticator shared by the
// authenticated route groups.
func NewAuthenticator(verifier auth.TokenVerifier) *auth.Authenticator {
	return auth.NewAuthenticator(verifier)
}

// EventLogger adapts a zap logger to the event-style logging callback that
// services accept.
func EventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}
