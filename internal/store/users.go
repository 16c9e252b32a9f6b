package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

var _ auth.UserStore = (*Store)(nil)

// CreateUser inserts u with a normalized email, assigning an id when empty.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.Email = auth.NormalizeEmail(u.Email)
	if u.Email == "" {
		return xerrors.Mark(xerrors.ErrInvalid, "user email is required")
	}
	if u.Role == "" {
		u.Role = string(auth.RoleViewer)
	}
	if !auth.Role(u.Role).Valid() {
		return xerrors.Mark(xerrors.ErrInvalid, "unknown role %q", u.Role)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return mapErr(err, "create user %s", u.Email)
	}
	return nil
}

// EnsureUser creates u unless the email is taken.
func (s *Store) EnsureUser(ctx context.Context, u *User) (created bool, err error) {
	var existing User
	err = s.db.WithContext(ctx).Where("email = ?", auth.NormalizeEmail(u.Email)).First(&existing).Error
	if err == nil {
		*u = existing
		return false, nil
	}
	if err := mapErr(err, "user %s", u.Email); !errors.Is(err, xerrors.ErrNotFound) {
		return false, err
	}
	if err := s.CreateUser(ctx, u); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*auth.Account, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("email = ?", auth.NormalizeEmail(email)).First(&u).Error; err != nil {
		return nil, mapErr(err, "user %s", email)
	}
	return toAccount(&u), nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*auth.Account, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, mapErr(err, "user %s", id)
	}
	return toAccount(&u), nil
}

func toAccount(u *User) *auth.Account {
	return &auth.Account{
		User: auth.User{
			ID:    u.ID,
			Email: u.Email,
			Name:  u.Name,
			Role:  auth.Role(u.Role),
		},
		PasswordHash: u.PasswordHash,
	}
}
