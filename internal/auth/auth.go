// internal/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"meal-scan/internal/models"
	"meal-scan/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("username and password are required")
)

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// Service registers users and checks their passwords against salted
// bcrypt hashes.
type Service struct {
	users UserStore
	cost  int
}

// NewService uses bcrypt.DefaultCost when cost is 0.
func NewService(users UserStore, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{users: users, cost: cost}
}

func (s *Service) Register(ctx context.Context, c models.Credentials) (*models.User, error) {
	username := strings.TrimSpace(c.Username)
	if username == "" || c.Password == "" {
		return nil, ErrInvalidInput
	}
	if len(c.Password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{Username: username, PasswordHash: string(hash)}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, c models.Credentials) (*models.User, error) {
	username := strings.TrimSpace(c.Username)
	if username == "" || c.Password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
