// Package authpw verifies member email/password credentials.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"pulse/api/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// MemberStore is the slice of the datastore sign-in needs.
type MemberStore interface {
	GetMemberByEmail(ctx context.Context, email string) (store.Member, error)
}

type Service struct {
	store MemberStore
}

func NewService(memberStore MemberStore) *Service {
	return &Service{store: memberStore}
}

// SignIn resolves and verifies a member. A missing account costs one bcrypt
// comparison the same as a wrong password, so the two are indistinguishable
// to a caller timing responses.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Member, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return store.Member{}, ErrInvalidCredentials
	}

	member, err := s.store.GetMemberByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return store.Member{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Member{}, fmt.Errorf("lookup member: %w", err)
	}
	if member.PasswordHash == "" {
		return store.Member{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		return store.Member{}, ErrInvalidCredentials
	}
	return member, nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

var dummyHash = mustHash("pulse-dummy-password")

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return hash
}
