package store

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"socialflow/internal/domain"
)

// NewUser is the registration payload.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UserUpdate holds the mutable account fields; nil means unchanged.
type UserUpdate struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", domain.Invalid("email", "enter a valid email address")
	}
	local, host, _ := strings.Cut(addr.Address, "@")
	return local + "@" + strings.ToLower(host), nil
}

func checkPassword(pw string) error {
	if utf8.RuneCountInString(pw) < domain.MinPasswordLen {
		return domain.Invalid("password", "must be at least %d characters", domain.MinPasswordLen)
	}
	return nil
}

func (s *Store) hashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Store) CreateUser(ctx context.Context, in NewUser) (domain.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return domain.User{}, err
	}
	if err := checkPassword(in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		CreatedAt:    s.clock.Now(),
	}
	if _, err := s.db.NewInsert().Model(&u).Exec(ctx); err != nil {
		return domain.User{}, mapError(err)
	}
	return u, nil
}

// Authenticate returns the user whose credentials match, or
// domain.ErrUnauthorized.
func (s *Store) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	var u domain.User
	err = s.db.NewSelect().Model(&u).Where("email = ?", normalized).Limit(1).Scan(ctx)
	if err != nil {
		if err := mapError(err); errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := s.db.NewSelect().Model(&u).Where("id = ?", id).Scan(ctx)
	return u, mapError(err)
}

func (s *Store) UpdateUser(ctx context.Context, id int64, in UserUpdate) (domain.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if in.Email != nil {
		if u.Email, err = normalizeEmail(*in.Email); err != nil {
			return domain.User{}, err
		}
	}
	if in.Password != nil {
		if err := checkPassword(*in.Password); err != nil {
			return domain.User{}, err
		}
		if u.PasswordHash, err = s.hashPassword(*in.Password); err != nil {
			return domain.User{}, err
		}
	}
	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}
	_, err = s.db.NewUpdate().Model(&u).
		Column("email", "password_hash", "first_name", "last_name").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return u, nil
}
