package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
)

const (
	userCollection      = "users"
	userEmailCollection = "userEmails"
)

// UserRepository persists first-party accounts in Firestore. Email uniqueness
// is enforced through pointer documents keyed by the lowercased address,
// created in the same transaction as the account document.
type UserRepository struct {
	provider *pfirestore.Provider
	users    *pfirestore.BaseRepository[userDocument]
	emails   *pfirestore.BaseRepository[emailPointerDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		provider: provider,
		users:    pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil),
		emails:   pfirestore.NewBaseRepository[emailPointerDocument](provider, userEmailCollection, nil, nil),
	}, nil
}

// Insert creates the account and its email pointer atomically. A taken email
// surfaces as a conflict repository error via the AlreadyExists mapping.
func (r *UserRepository) Insert(ctx context.Context, account domain.UserAccount) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(account.ID) == "" {
		return errors.New("user id is required")
	}
	email := normaliseEmail(account.Email)
	if email == "" {
		return errors.New("user email is required")
	}

	doc := fromDomainAccount(account)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		emailRef, err := r.emails.DocumentRef(ctx, emailDocID(email))
		if err != nil {
			return err
		}
		userRef, err := r.users.DocumentRef(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(emailRef, emailPointerDocument{UserID: account.ID, Email: email, CreatedAt: doc.CreatedAt}); err != nil {
			return err
		}
		return tx.Create(userRef, doc)
	})
	return pfirestore.WrapError("users.insert", err)
}

// Update rewrites the account document. The email pointer is immutable; email
// changes are not part of the supported flows.
func (r *UserRepository) Update(ctx context.Context, account domain.UserAccount) error {
	if r == nil || r.users == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(account.ID) == "" {
		return errors.New("user id is required")
	}
	_, err := r.users.Set(ctx, account.ID, fromDomainAccount(account))
	return err
}

// FindByID loads an account by its identifier.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserAccount, error) {
	if r == nil || r.users == nil {
		return domain.UserAccount{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserAccount{}, errors.New("user id is required")
	}
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail resolves the email pointer and loads the owning account.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.UserAccount, error) {
	if r == nil || r.emails == nil {
		return domain.UserAccount{}, errors.New("user repository not initialised")
	}
	normalised := normaliseEmail(email)
	if normalised == "" {
		return domain.UserAccount{}, errors.New("email is required")
	}
	pointer, err := r.emails.Get(ctx, emailDocID(normalised))
	if err != nil {
		return domain.UserAccount{}, err
	}
	return r.FindByID(ctx, pointer.Data.UserID)
}

// FindByIDs loads the requested accounts, silently skipping unknown IDs.
func (r *UserRepository) FindByIDs(ctx context.Context, userIDs []string) (map[string]domain.UserAccount, error) {
	if r == nil || r.users == nil {
		return nil, errors.New("user repository not initialised")
	}
	accounts := make(map[string]domain.UserAccount, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		doc, err := r.users.Get(ctx, trimmed)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		accounts[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return accounts, nil
}

type userDocument struct {
	DisplayName  string    `firestore:"displayName"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	Role         string    `firestore:"role"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

type emailPointerDocument struct {
	UserID    string    `firestore:"userId"`
	Email     string    `firestore:"email"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func (d userDocument) toDomain(id string) domain.UserAccount {
	return domain.UserAccount{
		ID:           id,
		DisplayName:  d.DisplayName,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         domain.Role(d.Role),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromDomainAccount(account domain.UserAccount) userDocument {
	return userDocument{
		DisplayName:  strings.TrimSpace(account.DisplayName),
		Email:        normaliseEmail(account.Email),
		PasswordHash: account.PasswordHash,
		Role:         string(account.Role),
		CreatedAt:    account.CreatedAt.UTC(),
		UpdatedAt:    account.UpdatedAt.UTC(),
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDocID flattens the address into a safe document ID. Firestore forbids
// forward slashes in IDs; everything else in an email address is acceptable.
func emailDocID(email string) string {
	return strings.ReplaceAll(email, "/", "_")
}

func isNotFound(err error) bool {
	var repoErr interface{ IsNotFound() bool }
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}

// DocumentPath constructs the document path for the provided user id.
func (r *UserRepository) DocumentPath(userID string) string {
	return fmt.Sprintf("%s/%s", userCollection, strings.TrimSpace(userID))
}
