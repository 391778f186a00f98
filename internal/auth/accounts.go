package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/joao-fontenele/salesflow/internal/domain"
)

// bcrypt ignores input past 72 bytes; longer passwords are rejected instead.
const maxPasswordLength = 72

type SellerStore interface {
	Create(ctx context.Context, s *domain.Seller) error
	GetByEmail(ctx context.Context, email string) (*domain.Seller, error)
	GetByID(ctx context.Context, id string) (*domain.Seller, error)
}

type RegisterInput struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Accounts struct {
	sellers SellerStore
	creds   *Credentials
	cost    int
	// decoy is compared against when the email is unknown so that both
	// login failure paths spend the same bcrypt time.
	decoy  string
	logger *slog.Logger
	now    func() time.Time
}

func NewAccounts(sellers SellerStore, creds *Credentials, cost int, logger *slog.Logger) (*Accounts, error) {
	decoy, err := HashPassword("decoy-password-for-unknown-accounts", cost)
	if err != nil {
		return nil, err
	}
	return &Accounts{
		sellers: sellers,
		creds:   creds,
		cost:    cost,
		decoy:   decoy,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in RegisterInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Invalid("name", "required")
	}
	if strings.TrimSpace(in.Surname) == "" {
		return domain.Invalid("surname", "required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return domain.Invalid("email", "malformed address")
	}
	if len(in.Password) < 8 || len(in.Password) > maxPasswordLength {
		return domain.Invalid("password", fmt.Sprintf("must be 8 to %d bytes", maxPasswordLength))
	}
	return nil
}

func (a *Accounts) Register(ctx context.Context, in RegisterInput) (*domain.Seller, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	existing, err := a.sellers.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrDuplicateEmail
	}

	hash, err := HashPassword(in.Password, a.cost)
	if err != nil {
		return nil, err
	}

	seller := &domain.Seller{
		Name:         strings.TrimSpace(in.Name),
		Surname:      strings.TrimSpace(in.Surname),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.sellers.Create(ctx, seller); err != nil {
		return nil, err
	}

	a.logger.Info("seller registered", "seller_id", seller.ID)
	return seller, nil
}

// Login returns a signed token. Unknown email and wrong password both yield
// domain.ErrInvalidCredentials after the same amount of hashing work; only
// the log line tells them apart.
func (a *Accounts) Login(ctx context.Context, in LoginInput) (string, error) {
	seller, err := a.sellers.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return "", err
	}

	hash := a.decoy
	if seller != nil {
		hash = seller.PasswordHash
	}

	ok, err := VerifyPassword(in.Password, hash)
	if err != nil {
		return "", err
	}

	switch {
	case seller == nil:
		a.logger.Info("login rejected", "reason", "unknown_email")
		return "", domain.ErrInvalidCredentials
	case !ok:
		a.logger.Info("login rejected", "reason", "password_mismatch", "seller_id", seller.ID)
		return "", domain.ErrInvalidCredentials
	}

	return a.creds.Issue(seller.ID)
}

func (a *Accounts) WhoAmI(ctx context.Context, token string) (*domain.Seller, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	sellerID, err := a.creds.Verify(token)
	if err != nil {
		return nil, err
	}

	seller, err := a.sellers.GetByID(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller == nil {
		// Signed for an account that no longer exists.
		return nil, fmt.Errorf("%w: unknown seller", domain.ErrInvalidToken)
	}
	return seller, nil
}

