package clients

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/domain"
)

type Store interface {
	Create(ctx context.Context, c *domain.Client) error
	Get(ctx context.Context, id string) (*domain.Client, error)
	EmailTaken(ctx context.Context, email, exceptID string) (bool, error)
	ListAll(ctx context.Context) ([]domain.Client, error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Client, error)
	Update(ctx context.Context, c *domain.Client) error
	Delete(ctx context.Context, id string) error
}

type ClientInput struct {
	Name    string  `json:"name"`
	Surname string  `json:"surname"`
	Email   string  `json:"email"`
	Phone   *string `json:"phone,omitempty"`
	Company string  `json:"company"`
}

func (in ClientInput) normalize() (ClientInput, error) {
	out := ClientInput{
		Name:    strings.TrimSpace(in.Name),
		Surname: strings.TrimSpace(in.Surname),
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Company: strings.TrimSpace(in.Company),
	}
	if in.Phone != nil {
		if phone := strings.TrimSpace(*in.Phone); phone != "" {
			out.Phone = &phone
		}
	}

	switch {
	case out.Name == "":
		return out, domain.Invalid("name", "required")
	case out.Surname == "":
		return out, domain.Invalid("surname", "required")
	case out.Company == "":
		return out, domain.Invalid("company", "required")
	}
	if _, err := mail.ParseAddress(out.Email); err != nil {
		return out, domain.Invalid("email", "malformed address")
	}
	return out, nil
}

// Directory manages clients. Each client belongs to the seller that created
// it for its whole lifetime.
type Directory struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewDirectory(store Store, logger *slog.Logger) *Directory {
	return &Directory{store: store, logger: logger, now: time.Now}
}

func (d *Directory) Create(ctx context.Context, in ClientInput, caller access.Caller) (*domain.Client, error) {
	if err := access.Require(caller); err != nil {
		return nil, err
	}
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	taken, err := d.store.EmailTaken(ctx, in.Email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrAlreadyExists
	}

	c := &domain.Client{
		Name:      in.Name,
		Surname:   in.Surname,
		Email:     in.Email,
		Phone:     in.Phone,
		Company:   in.Company,
		SellerID:  caller.SellerID,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Create(ctx, c); err != nil {
		return nil, err
	}

	d.logger.Info("client created", "client_id", c.ID, "seller_id", c.SellerID)
	return c, nil
}

// Get returns the client if caller owns it.
func (d *Directory) Get(ctx context.Context, id string, caller access.Caller) (*domain.Client, error) {
	c, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, domain.NewNotFound("client", id)
	}
	if err := access.Authorize(caller, c.SellerID); err != nil {
		d.logger.Warn("client access denied", "client_id", id, "caller", caller.SellerID)
		return nil, err
	}
	return c, nil
}

// ListAll is the unscoped administrative listing. It performs no ownership
// filtering and must sit behind a separate admin check wherever exposed.
func (d *Directory) ListAll(ctx context.Context) ([]domain.Client, error) {
	return d.store.ListAll(ctx)
}

func (d *Directory) ListMine(ctx context.Context, caller access.Caller) ([]domain.Client, error) {
	if err := access.Require(caller); err != nil {
		return nil, err
	}
	return d.store.ListBySeller(ctx, caller.SellerID)
}

func (d *Directory) Update(ctx context.Context, id string, in ClientInput, caller access.Caller) (*domain.Client, error) {
	c, err := d.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}

	if in.Email != c.Email {
		taken, err := d.store.EmailTaken(ctx, in.Email, c.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrAlreadyExists
		}
	}

	c.Name, c.Surname, c.Email, c.Phone, c.Company = in.Name, in.Surname, in.Email, in.Phone, in.Company
	if err := d.store.Update(ctx, c); err != nil {
		return nil, err
	}

	d.logger.Info("client updated", "client_id", c.ID)
	return c, nil
}

func (d *Directory) Delete(ctx context.Context, id string, caller access.Caller) error {
	if _, err := d.Get(ctx, id, caller); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, id); err != nil {
		return err
	}

	d.logger.Info("client deleted", "client_id", id)
	return nil
}
