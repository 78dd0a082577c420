package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/services"
)

type stubCatalogService struct {
	createFn func(context.Context, services.UpsertProductCommand) (services.Product, error)
	updateFn func(context.Context, services.UpsertProductCommand) (services.Product, error)
	deleteFn func(context.Context, services.DeleteProductCommand) error
	getFn    func(context.Context, string) (services.Product, error)
	listFn   func(context.Context, services.ProductListFilter) (domain.CursorPage[services.Product], error)
	uploadFn func(context.Context, services.ProductImageUploadCommand) (services.ProductImageUpload, error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, cmd services.DeleteProductCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) CreateImageUpload(ctx context.Context, cmd services.ProductImageUploadCommand) (services.ProductImageUpload, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, cmd)
	}
	return services.ProductImageUpload{}, errors.New("not implemented")
}

func sampleProduct(now time.Time) domain.Product {
	return domain.Product{
		ID:        "prd_1",
		Name:      "Fuji Apples",
		Category:  "produce",
		UnitPrice: 1000,
		Stock:     10,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProductHandlersListProducts(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	var captured services.ProductListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
			captured = filter
			return domain.CursorPage[services.Product]{
				Items:         []services.Product{sampleProduct(now)},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products?category=produce&page_size=5&page_token=tok1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Category != "produce" {
		t.Fatalf("expected category produce, got %s", captured.Category)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok1" {
		t.Fatalf("unexpected pagination: %#v", captured.Pagination)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].ID != "prd_1" {
		t.Fatalf("unexpected products: %#v", resp.Products)
	}
	if resp.Products[0].PriceCents != 1000 {
		t.Fatalf("expected price 1000, got %d", resp.Products[0].PriceCents)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			if productID != "prd_1" {
				t.Fatalf("unexpected product id %s", productID)
			}
			return sampleProduct(now), nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Name != "Fuji Apples" || resp.Stock != 10 {
		t.Fatalf("unexpected payload: %#v", resp)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogProductNotFound
		},
	}
	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersCreateProduct(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	var captured services.UpsertProductCommand
	service := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			captured = cmd
			return sampleProduct(now), nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	body := `{"name":"Fuji Apples","description":"Crisp","price_cents":1000,"stock":10,"category":"Produce"}`
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "usr_op", Roles: []string{auth.RoleOperator}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "" {
		t.Fatalf("expected empty product id on create, got %s", captured.ProductID)
	}
	if captured.ActorID != "usr_op" || captured.Name != "Fuji Apples" || captured.UnitPrice != 1000 {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestProductHandlersUpdateProduct(t *testing.T) {
	now := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)

	var captured services.UpsertProductCommand
	service := &stubCatalogService{
		updateFn: func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			captured = cmd
			return sampleProduct(now), nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodPut, "/products/prd_1", strings.NewReader(`{"name":"Fuji Apples","price_cents":1200,"stock":8}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "usr_op", Roles: []string{auth.RoleOperator}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prd_1" || captured.UnitPrice != 1200 {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestProductHandlersDeleteProduct(t *testing.T) {
	var captured services.DeleteProductCommand
	service := &stubCatalogService{
		deleteFn: func(ctx context.Context, cmd services.DeleteProductCommand) error {
			captured = cmd
			return nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/products/prd_1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "usr_op", Roles: []string{auth.RoleOperator}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if captured.ProductID != "prd_1" || captured.ActorID != "usr_op" {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestProductHandlersCreateImageUpload(t *testing.T) {
	expires := time.Date(2025, 5, 6, 10, 15, 0, 0, time.UTC)

	var captured services.ProductImageUploadCommand
	service := &stubCatalogService{
		uploadFn: func(ctx context.Context, cmd services.ProductImageUploadCommand) (services.ProductImageUpload, error) {
			captured = cmd
			return services.ProductImageUpload{
				UploadURL: "https://storage.example.com/signed",
				ImagePath: "products/prd_1/01TESTULID.png",
				ExpiresAt: expires,
			}, nil
		},
	}

	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/products/prd_1/image-uploads", strings.NewReader(`{"content_type":"image/png","file_name":"apples.png"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "usr_op", Roles: []string{auth.RoleOperator}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" || captured.ContentType != "image/png" {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp imageUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.UploadURL != "https://storage.example.com/signed" {
		t.Fatalf("unexpected upload url %s", resp.UploadURL)
	}
	if resp.ExpiresAt != "2025-05-06T10:15:00Z" {
		t.Fatalf("unexpected expiry %s", resp.ExpiresAt)
	}
}

func TestProductHandlersMutationsRequireOperator(t *testing.T) {
	verifier := &stubTokenVerifierHandlers{identity: &auth.Identity{UID: "usr_1", Roles: []string{auth.RoleCustomer}}}
	authn := auth.NewAuthenticator(verifier)

	handler := NewProductHandlers(authn, &stubCatalogService{})
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Authorization", "Bearer customer-token")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

type stubTokenVerifierHandlers struct {
	identity *auth.Identity
	err      error
}

func (s *stubTokenVerifierHandlers) Verify(token string) (*auth.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}
