package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	userIDPrefix          = "usr_"
	minPasswordLength     = 8
	maxDisplayNameLength  = 100
)

var (
	// ErrIdentityInvalidInput signals malformed signup or login data.
	ErrIdentityInvalidInput = errors.New("identity: invalid input")
	// ErrIdentityEmailTaken indicates another account already owns the email.
	ErrIdentityEmailTaken = errors.New("identity: email already registered")
	// ErrIdentityInvalidCredentials covers both unknown emails and wrong
	// passwords so login failures do not reveal which one it was.
	ErrIdentityInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrIdentityNotFound indicates the account could not be located.
	ErrIdentityNotFound = errors.New("identity: account not found")
)

// TokenIssuer mints signed bearer tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(account UserAccount, now time.Time) (token string, expiresAt time.Time, err error)
}

// IdentityServiceDeps bundles collaborators required to construct the identity service.
type IdentityServiceDeps struct {
	Users       repositories.UserRepository
	Tokens      TokenIssuer
	BcryptCost  int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type identityService struct {
	users      repositories.UserRepository
	tokens     TokenIssuer
	bcryptCost int
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewIdentityService wires dependencies into a concrete IdentityService implementation.
func NewIdentityService(deps IdentityServiceDeps) (IdentityService, error) {
	if deps.Users == nil {
		return nil, errors.New("identity service: user repository is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("identity service: token issuer is required")
	}

	cost := deps.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
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

	return &identityService{
		users:      deps.Users,
		tokens:     deps.Tokens,
		bcryptCost: cost,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// Register creates a customer account. The role is assigned here and never
// taken from request input; operator accounts are provisioned out of band.
func (s *identityService) Register(ctx context.Context, cmd RegisterCommand) (AuthResult, error) {
	displayName := strings.TrimSpace(cmd.DisplayName)
	if displayName == "" || len(displayName) > maxDisplayNameLength {
		return AuthResult{}, fmt.Errorf("%w: display name must be 1-%d characters", ErrIdentityInvalidInput, maxDisplayNameLength)
	}
	email, err := normaliseEmailAddress(cmd.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if len(cmd.Password) < minPasswordLength {
		return AuthResult{}, fmt.Errorf("%w: password must be at least %d characters", ErrIdentityInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock()
	account := domain.UserAccount{
		ID:           userIDPrefix + s.newID(),
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Insert(ctx, account); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return AuthResult{}, fmt.Errorf("%w: %s", ErrIdentityEmailTaken, email)
		}
		return AuthResult{}, fmt.Errorf("insert account: %w", err)
	}

	s.logger(ctx, "identity.registered", map[string]any{"user_id": account.ID})
	return s.issue(account, now)
}

// Login checks credentials and issues a fresh token.
func (s *identityService) Login(ctx context.Context, cmd LoginCommand) (AuthResult, error) {
	email, err := normaliseEmailAddress(cmd.Email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("%w: %v", ErrIdentityInvalidCredentials, err)
	}

	account, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return AuthResult{}, ErrIdentityInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(cmd.Password)); err != nil {
		return AuthResult{}, ErrIdentityInvalidCredentials
	}

	s.logger(ctx, "identity.logged_in", map[string]any{"user_id": account.ID})
	return s.issue(account, s.clock())
}

// GetAccount loads a single account by ID.
func (s *identityService) GetAccount(ctx context.Context, userID string) (UserAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return UserAccount{}, fmt.Errorf("%w: user id is required", ErrIdentityInvalidInput)
	}
	account, err := s.users.FindByID(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return UserAccount{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, userID)
		}
		return UserAccount{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *identityService) issue(account domain.UserAccount, now time.Time) (AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(account, now)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	account.PasswordHash = ""
	return AuthResult{Account: account, Token: token, ExpiresAt: expiresAt}, nil
}

func normaliseEmailAddress(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrIdentityInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: malformed email address", ErrIdentityInvalidInput)
	}
	return email, nil
}
