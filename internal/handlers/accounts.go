package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const maxAccountBodySize = 16 * 1024

// AccountHandlers exposes registration and login endpoints.
type AccountHandlers struct {
	identity services.IdentityService
}

// NewAccountHandlers constructs a new AccountHandlers instance.
func NewAccountHandlers(identity services.IdentityService) *AccountHandlers {
	return &AccountHandlers{identity: identity}
}

// Routes registers the /register and /login endpoints.
func (h *AccountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
}

type registerRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type authResponse struct {
	Token     string         `json:"token"`
	ExpiresAt string         `json:"expires_at"`
	User      accountPayload `json:"user"`
}

func (h *AccountHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req registerRequest
	if !decodeJSONBody(ctx, w, r, maxAccountBodySize, &req) {
		return
	}

	result, err := h.identity.Register(ctx, services.RegisterCommand{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		writeIdentityError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toAuthResponse(result))
}

func (h *AccountHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("identity_service_unavailable", "identity service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req loginRequest
	if !decodeJSONBody(ctx, w, r, maxAccountBodySize, &req) {
		return
	}

	result, err := h.identity.Login(ctx, services.LoginCommand{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeIdentityError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toAuthResponse(result))
}

func toAuthResponse(result services.AuthResult) authResponse {
	return authResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
		User:      toAccountPayload(result.Account),
	}
}

func toAccountPayload(account domain.UserAccount) accountPayload {
	payload := accountPayload{
		ID:          account.ID,
		DisplayName: account.DisplayName,
		Email:       account.Email,
		Role:        string(account.Role),
	}
	if !account.CreatedAt.IsZero() {
		payload.CreatedAt = account.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func writeIdentityError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrIdentityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrIdentityEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "an account with this email already exists", http.StatusConflict))
	case errors.Is(err, services.ErrIdentityInvalidCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password is incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrIdentityNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("account_not_found", "account not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// decodeJSONBody decodes a JSON request body with a size cap, writing the
// canonical error envelope on failure.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
