package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const productCollection = "products"

const (
	defaultProductPageSize = 50
	maxProductPageSize     = 100
)

// ProductRepository persists catalog entries in Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
	}, nil
}

// Insert creates a new product document, failing on ID collisions.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	doc := fromDomainProduct(product)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, product.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("products.insert", err)
}

// Update rewrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	_, err := r.products.Set(ctx, product.ID, fromDomainProduct(product))
	return err
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	ref, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the requested products, skipping unknown IDs.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product repository not initialised")
	}
	products := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		doc, err := r.products.Get(ctx, trimmed)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		products[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return products, nil
}

// List returns a page of products ordered by name, optionally scoped to a
// category.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultProductPageSize
	}
	if pageSize > maxProductPageSize {
		pageSize = maxProductPageSize
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	query := client.Collection(productCollection).Query
	category := strings.TrimSpace(filter.Category)
	if category != "" {
		query = query.Where("category", "==", strings.ToLower(category))
	}
	query = query.OrderBy("name", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		query = query.StartAfter(cursor.Name, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{Name: last.Name, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description"`
	Category    string    `firestore:"category"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Stock       int       `firestore:"stock"`
	ImagePath   string    `firestore:"imagePath,omitempty"`
	SearchTerms []string  `firestore:"searchTerms,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		UnitPrice:   d.UnitPrice,
		Stock:       d.Stock,
		ImagePath:   d.ImagePath,
		SearchTerms: d.SearchTerms,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromDomainProduct(product domain.Product) productDocument {
	return productDocument{
		Name:        strings.TrimSpace(product.Name),
		Description: product.Description,
		Category:    strings.ToLower(strings.TrimSpace(product.Category)),
		UnitPrice:   product.UnitPrice,
		Stock:       product.Stock,
		ImagePath:   strings.TrimSpace(product.ImagePath),
		SearchTerms: product.SearchTerms,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

type productPageToken struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func encodeProductPageToken(token productPageToken) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeProductPageToken(encoded string) (productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return productPageToken{}, fmt.Errorf("invalid page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return productPageToken{}, fmt.Errorf("invalid page token: %w", err)
	}
	return token, nil
}
