package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const (
	maxProductBodySize     = 64 * 1024
	defaultProductPageSize = 20
	maxProductPageSize     = 100
)

// ProductHandlers exposes the catalog endpoints. Reads are public;
// mutations require the operator role.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes registers catalog endpoints on the given router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Get("/{productID}", h.get)

	r.Group(func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireAuth(auth.RoleOperator))
		}
		rt.Post("/", h.create)
		rt.Put("/{productID}", h.update)
		rt.Delete("/{productID}", h.delete)
		rt.Post("/{productID}/image-uploads", h.createImageUpload)
	})
}

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	Category    string `json:"category"`
	ImagePath   string `json:"image_path"`
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	Category    string `json:"category,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type imageUploadRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type imageUploadResponse struct {
	UploadURL string `json:"upload_url"`
	ImagePath string `json:"image_path"`
	ExpiresAt string `json:"expires_at"`
}

func (h *ProductHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.ProductListFilter{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Pagination: domain.Pagination{
			PageSize:  parsePageSize(r, defaultProductPageSize, maxProductPageSize),
			PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
		},
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogServiceError(ctx, w, err)
		return
	}

	response := productListResponse{
		Products:      make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		response.Products = append(response.Products, toProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *ProductHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toProductPayload(product))
}

func (h *ProductHandlers) create(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, "")
}

func (h *ProductHandlers) update(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, chi.URLParam(r, "productID"))
}

func (h *ProductHandlers) save(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req productRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	command := services.UpsertProductCommand{
		ProductID:   productID,
		ActorID:     identity.UID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		UnitPrice:   req.PriceCents,
		Stock:       req.Stock,
		ImagePath:   req.ImagePath,
	}

	var (
		product domain.Product
		err     error
	)
	if productID == "" {
		product, err = h.catalog.CreateProduct(ctx, command)
	} else {
		product, err = h.catalog.UpdateProduct(ctx, command)
	}
	if err != nil {
		writeCatalogServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if productID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, toProductPayload(product))
}

func (h *ProductHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{
		ProductID: chi.URLParam(r, "productID"),
		ActorID:   identity.UID,
	})
	if err != nil {
		writeCatalogServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) createImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req imageUploadRequest
	if !decodeJSONBody(ctx, w, r, maxProductBodySize, &req) {
		return
	}

	upload, err := h.catalog.CreateImageUpload(ctx, services.ProductImageUploadCommand{
		ProductID:   chi.URLParam(r, "productID"),
		ContentType: req.ContentType,
		FileName:    req.FileName,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeCatalogServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, imageUploadResponse{
		UploadURL: upload.UploadURL,
		ImagePath: upload.ImagePath,
		ExpiresAt: upload.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func toProductPayload(product domain.Product) productPayload {
	payload := productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		PriceCents:  product.UnitPrice,
		Stock:       product.Stock,
		Category:    product.Category,
		ImagePath:   product.ImagePath,
	}
	if !product.CreatedAt.IsZero() {
		payload.CreatedAt = product.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !product.UpdatedAt.IsZero() {
		payload.UpdatedAt = product.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeCatalogServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUploadsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("uploads_unavailable", "image uploads are not available", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func parsePageSize(r *http.Request, fallback, ceiling int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("page_size"))
	if raw == "" {
		return fallback
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return fallback
	}
	if size > ceiling {
		return ceiling
	}
	return size
}
