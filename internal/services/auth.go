package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/inkpost/apiserver/internal/auth"
	"github.com/inkpost/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer signs credential pairs for a verified identity.
type TokenIssuer interface {
	IssuePair(user types.User) (auth.TokenPair, error)
}

// Session is the result of a successful register or login.
type Session struct {
	auth.TokenPair
	User types.User `json:"user"`
}

// AuthService issues and validates credentials on top of UserService.
type AuthService struct {
	users  *UserService
	issuer TokenIssuer
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(users *UserService, issuer TokenIssuer, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:  users,
		issuer: issuer,
		logger: logger.With("service", "auth"),
	}
}

// Register creates a regular user account and signs a pair for it.
func (s *AuthService) Register(ctx context.Context, in types.RegisterInput) (Session, error) {
	user, err := s.users.Create(ctx, types.CreateUserInput{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  in.Password,
	})
	if err != nil {
		return Session{}, err
	}
	return s.session(ctx, user)
}

// Login verifies the password. Unknown emails and wrong passwords yield the
// same ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	user, found, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !found {
		// Spend a comparison anyway so timing does not reveal the miss.
		_ = bcrypt.CompareHashAndPassword(s.placeholderHash(), []byte(password))
		return Session{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(ctx, user)
}

// Refresh issues a new pair for userID. Only the identity lookup is checked.
func (s *AuthService) Refresh(ctx context.Context, userID string) (auth.TokenPair, error) {
	user, err := s.Validate(ctx, userID)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, user)
}

// Validate materializes the acting identity for an authenticated request.
func (s *AuthService) Validate(ctx context.Context, userID string) (types.User, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: unknown subject", ErrUnauthorized)
		}
		return types.User{}, err
	}
	return user, nil
}

func (s *AuthService) session(ctx context.Context, user types.User) (Session, error) {
	pair, err := s.issue(ctx, user)
	if err != nil {
		return Session{}, err
	}
	return Session{TokenPair: pair, User: user}, nil
}

func (s *AuthService) issue(ctx context.Context, user types.User) (auth.TokenPair, error) {
	pair, err := s.issuer.IssuePair(user)
	if err != nil {
		return auth.TokenPair{}, internalFailure(ctx, s.logger, "issue tokens", err)
	}
	return pair, nil
}

func (s *AuthService) placeholderHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("inkpost-placeholder"), s.users.passwordCost)
	})
	return s.dummyHash
}
