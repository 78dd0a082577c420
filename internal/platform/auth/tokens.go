package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domain "github.com/greenbasket/api/internal/domain"
)

const (
	defaultTokenTTL = 24 * time.Hour
	defaultIssuer   = "greenbasket-api"
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

type accessTokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HMAC-signed bearer tokens for first-party
// accounts.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// TokenServiceConfig carries TokenService construction parameters.
type TokenServiceConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// NewTokenService builds a TokenService. The signing secret is required.
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token signing secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenService{secret: cfg.Secret, ttl: ttl, issuer: issuer}, nil
}

// Issue mints a signed token for the account, returning the token string and
// its expiry.
func (s *TokenService) Issue(account domain.UserAccount, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, errors.New("auth: account id is required")
	}
	now = now.UTC()
	expiresAt := now.Add(s.ttl)

	claims := accessTokenClaims{
		Email: account.Email,
		Role:  string(account.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token string and maps it to an Identity.
func (s *TokenService) Verify(tokenStr string) (*Identity, error) {
	claims := &accessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{
		UID:   claims.Subject,
		Email: claims.Email,
	}
	if role := normaliseRole(claims.Role); role != "" {
		identity.Roles = []string{role}
	}
	return identity, nil
}
