package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	productIDPrefix      = "prd_"
	maxProductNameLength = 200
	defaultUploadTTL     = 15 * time.Minute
)

var (
	// ErrCatalogInvalidInput signals malformed product data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product could not be located.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogUploadsUnavailable indicates no upload signer is configured.
	ErrCatalogUploadsUnavailable = errors.New("catalog: image uploads not configured")
)

// ImageUploadSigner issues signed PUT URLs for catalog image objects.
type ImageUploadSigner interface {
	SignUpload(ctx context.Context, objectPath string, contentType string, expiresAt time.Time) (string, error)
}

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Sanitizer   *bluemonday.Policy
	Uploads     ImageUploadSigner
	UploadTTL   time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products  repositories.ProductRepository
	sanitizer *bluemonday.Policy
	uploads   ImageUploadSigner
	uploadTTL time.Duration
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	folder    cases.Caser
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.UGCPolicy()
	}
	ttl := deps.UploadTTL
	if ttl <= 0 {
		ttl = defaultUploadTTL
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

	return &catalogService{
		products:  deps.Products,
		sanitizer: sanitizer,
		uploads:   deps.Uploads,
		uploadTTL: ttl,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
		folder:    cases.Fold(),
	}, nil
}

// CreateProduct adds a product to the catalog.
func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	normalised, err := s.normalise(cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product := domain.Product{
		ID:          productIDPrefix + s.newID(),
		Name:        normalised.Name,
		Description: normalised.Description,
		Category:    normalised.Category,
		UnitPrice:   normalised.UnitPrice,
		Stock:       normalised.Stock,
		ImagePath:   normalised.ImagePath,
		SearchTerms: s.searchTerms(normalised.Name, normalised.Category),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	s.logger(ctx, "catalog.product_created", map[string]any{"product_id": product.ID, "actor_id": cmd.ActorID})
	return product, nil
}

// UpdateProduct replaces the mutable fields of an existing product.
func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	normalised, err := s.normalise(cmd)
	if err != nil {
		return Product{}, err
	}

	existing, err := s.products.FindByID(ctx, cmd.ProductID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err, cmd.ProductID)
	}

	existing.Name = normalised.Name
	existing.Description = normalised.Description
	existing.Category = normalised.Category
	existing.UnitPrice = normalised.UnitPrice
	existing.Stock = normalised.Stock
	if normalised.ImagePath != "" {
		existing.ImagePath = normalised.ImagePath
	}
	existing.SearchTerms = s.searchTerms(normalised.Name, normalised.Category)
	existing.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, existing); err != nil {
		return Product{}, s.mapRepositoryError(err, cmd.ProductID)
	}
	s.logger(ctx, "catalog.product_updated", map[string]any{"product_id": existing.ID, "actor_id": cmd.ActorID})
	return existing, nil
}

// DeleteProduct removes a product. Historical order lines keep their own
// snapshot of the product name and price, so deletion does not rewrite them.
func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, cmd.ProductID); err != nil {
		return s.mapRepositoryError(err, cmd.ProductID)
	}
	s.logger(ctx, "catalog.product_deleted", map[string]any{"product_id": cmd.ProductID, "actor_id": cmd.ActorID})
	return nil
}

// GetProduct loads a single product.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	if strings.TrimSpace(productID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err, productID)
	}
	return product, nil
}

// ListProducts pages through the catalog, optionally scoped to a category.
func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:   strings.ToLower(strings.TrimSpace(filter.Category)),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, fmt.Errorf("list products: %w", err)
	}
	return page, nil
}

// CreateImageUpload issues a signed PUT URL for a product image object. The
// caller uploads directly to storage and then records the returned path via
// UpdateProduct.
func (s *catalogService) CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error) {
	if s.uploads == nil {
		return ProductImageUpload{}, ErrCatalogUploadsUnavailable
	}
	if strings.TrimSpace(cmd.ProductID) == "" {
		return ProductImageUpload{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	contentType := strings.TrimSpace(cmd.ContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return ProductImageUpload{}, fmt.Errorf("%w: content type %q is not an image", ErrCatalogInvalidInput, cmd.ContentType)
	}

	if _, err := s.products.FindByID(ctx, cmd.ProductID); err != nil {
		return ProductImageUpload{}, s.mapRepositoryError(err, cmd.ProductID)
	}

	ext := strings.ToLower(path.Ext(cmd.FileName))
	objectPath := fmt.Sprintf("products/%s/%s%s", cmd.ProductID, s.newID(), ext)
	expiresAt := s.clock().Add(s.uploadTTL)

	url, err := s.uploads.SignUpload(ctx, objectPath, contentType, expiresAt)
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("sign upload: %w", err)
	}

	s.logger(ctx, "catalog.image_upload_issued", map[string]any{"product_id": cmd.ProductID, "object": objectPath})
	return ProductImageUpload{UploadURL: url, ImagePath: objectPath, ExpiresAt: expiresAt}, nil
}

type normalisedProduct struct {
	Name        string
	Description string
	Category    string
	UnitPrice   int64
	Stock       int
	ImagePath   string
}

func (s *catalogService) normalise(cmd UpsertProductCommand) (normalisedProduct, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" || utf8.RuneCountInString(name) > maxProductNameLength {
		return normalisedProduct{}, fmt.Errorf("%w: name must be 1-%d characters", ErrCatalogInvalidInput, maxProductNameLength)
	}
	if cmd.UnitPrice < 0 {
		return normalisedProduct{}, fmt.Errorf("%w: unit price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return normalisedProduct{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}

	return normalisedProduct{
		Name:        name,
		Description: s.sanitizer.Sanitize(cmd.Description),
		Category:    strings.ToLower(strings.TrimSpace(cmd.Category)),
		UnitPrice:   cmd.UnitPrice,
		Stock:       cmd.Stock,
		ImagePath:   strings.TrimSpace(cmd.ImagePath),
	}, nil
}

// searchTerms folds the name and category into case-insensitive tokens used
// by the storefront search box.
func (s *catalogService) searchTerms(name, category string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, raw := range append(strings.Fields(name), category) {
		term := s.folder.String(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func (s *catalogService) mapRepositoryError(err error, productID string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrCatalogProductNotFound, productID)
	}
	return err
}
