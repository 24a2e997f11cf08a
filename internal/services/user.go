package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inkpost/apiserver/internal/store"
	"github.com/inkpost/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
}

// UserPostLister loads every post of one author.
type UserPostLister interface {
	ListAllByAuthor(ctx context.Context, authorID string) ([]types.Post, error)
}

// UserService encapsulates user account use-cases.
type UserService struct {
	repo         UserRepository
	posts        UserPostLister
	notifier     Notifier
	logger       *slog.Logger
	passwordCost int
}

func NewUserService(repo UserRepository, posts UserPostLister, notifier Notifier, logger *slog.Logger) *UserService {
	if notifier == nil {
		notifier = NopNotifier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:         repo,
		posts:        posts,
		notifier:     notifier,
		logger:       logger.With("service", "users"),
		passwordCost: bcrypt.DefaultCost,
	}
}

// Create registers a new account. The email must be unused and the role
// defaults to RoleUser.
func (s *UserService) Create(ctx context.Context, in types.CreateUserInput) (types.User, error) {
	if _, found, err := s.GetByEmail(ctx, in.Email); err != nil {
		return types.User{}, err
	} else if found {
		return types.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
	}

	role := types.RoleUser
	if in.Role != nil {
		if !in.Role.Valid() {
			return types.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.Role)
		}
		role = *in.Role
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return types.User{}, err
		}
		return types.User{}, internalFailure(ctx, s.logger, "hash password", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
		}
		return types.User{}, internalFailure(ctx, s.logger, "create user", err)
	}

	s.notifier.Notify(ctx, newEvent(types.EventUserCreated, user.ID, types.User{}, user))
	return user, nil
}

func (s *UserService) List(ctx context.Context, p types.Pagination) (types.Page[types.User], error) {
	p = p.Normalize()
	users, total, err := s.repo.List(ctx, p.Offset(), p.Limit)
	if err != nil {
		return types.Page[types.User]{}, internalFailure(ctx, s.logger, "list users", err)
	}
	return types.NewPage(users, total, p), nil
}

// GetByID returns the user together with all of their posts.
func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.Find(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	posts, err := s.posts.ListAllByAuthor(ctx, id)
	if err != nil {
		return types.User{}, internalFailure(ctx, s.logger, "list user posts", err)
	}
	for i := range posts {
		posts[i].Author = nil
	}
	user.Posts = posts
	return user, nil
}

// Find returns the user without related posts.
func (s *UserService) Find(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return types.User{}, internalFailure(ctx, s.logger, "get user", err)
	}
	return user, nil
}

// GetByEmail reports absence through the boolean rather than an error.
func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, bool, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, nil
		}
		return types.User{}, false, internalFailure(ctx, s.logger, "get user by email", err)
	}
	return user, true, nil
}

// Update applies a partial update. Only admins or the account owner may
// update, and only admins may change roles.
func (s *UserService) Update(ctx context.Context, id string, in types.UpdateUserInput, actor types.User) (types.User, error) {
	target, err := s.Find(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if !actor.IsAdmin() && actor.ID != id {
		return types.User{}, fmt.Errorf("%w: cannot update another user", ErrForbidden)
	}

	if in.Email != nil && *in.Email != target.Email {
		if _, found, err := s.GetByEmail(ctx, *in.Email); err != nil {
			return types.User{}, err
		} else if found {
			return types.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
		}
		target.Email = *in.Email
	}

	if in.Role != nil {
		if !actor.IsAdmin() {
			return types.User{}, fmt.Errorf("%w: only admins can change roles", ErrForbidden)
		}
		if !in.Role.Valid() {
			return types.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.Role)
		}
		target.Role = *in.Role
	}

	if in.FirstName != nil {
		target.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		target.LastName = *in.LastName
	}
	if in.Password != nil {
		hash, err := s.hashPassword(*in.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				return types.User{}, err
			}
			return types.User{}, internalFailure(ctx, s.logger, "hash password", err)
		}
		target.PasswordHash = hash
	}

	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
		case errors.Is(err, store.ErrDuplicate):
			return types.User{}, fmt.Errorf("%w: email already registered", ErrAlreadyExists)
		}
		return types.User{}, internalFailure(ctx, s.logger, "update user", err)
	}

	s.notifier.Notify(ctx, newEvent(types.EventUserUpdated, updated.ID, actor, updated))
	return updated, nil
}

// Remove deletes another user's account. Self-deletion is refused for every
// role, so only an admin targeting a different account succeeds.
func (s *UserService) Remove(ctx context.Context, id string, actor types.User) (bool, error) {
	if _, err := s.Find(ctx, id); err != nil {
		return false, err
	}

	if !actor.IsAdmin() && actor.ID != id {
		return false, fmt.Errorf("%w: cannot delete another user", ErrForbidden)
	}
	if actor.ID == id {
		return false, fmt.Errorf("%w: cannot delete your own account", ErrForbidden)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return false, internalFailure(ctx, s.logger, "delete user", err)
	}

	s.notifier.Notify(ctx, newEvent(types.EventUserDeleted, id, actor, nil))
	return true, nil
}

// MaxPasswordBytes is the longest password bcrypt can hash.
const MaxPasswordBytes = 72

func (s *UserService) hashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, MaxPasswordBytes)
		}
		return "", err
	}
	return string(hashed), nil
}
