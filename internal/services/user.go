package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/peerhub/apiserver/internal/apperror"
	"github.com/peerhub/apiserver/internal/events"
	"github.com/peerhub/apiserver/internal/store"
	"github.com/peerhub/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const minUsernameLength = 3

var digitsOnly = regexp.MustCompile(`^\d+$`)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateLocation(ctx context.Context, id int64, location string) error
	UpdateImage(ctx context.Context, id int64, image string) error
	Rename(ctx context.Context, id int64, username string) error
	Rate(ctx context.Context, targetUsername, rater string, grade float64) error
}

// UserService encapsulates account use-cases: registration, credential
// checks, profile updates, and peer ratings.
type UserService struct {
	repo   UserRepository
	events *events.Publisher
	log    *slog.Logger
}

func NewUserService(repo UserRepository, publisher *events.Publisher, log *slog.Logger) *UserService {
	return &UserService{repo: repo, events: publisher, log: log}
}

// RegisterParams carries the password-registration input.
type RegisterParams struct {
	Email    string
	Phone    string
	Username string
	Password string
}

// Register creates a password-backed account. The stored hash is a bcrypt
// hash; the plaintext never reaches the repository.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (types.User, error) {
	params.Email = strings.TrimSpace(strings.ToLower(params.Email))
	params.Phone = strings.TrimSpace(params.Phone)
	params.Username = strings.TrimSpace(params.Username)

	if params.Email == "" || params.Phone == "" || params.Username == "" || params.Password == "" {
		return types.User{}, apperror.NewValidation("all fields are required")
	}
	if !digitsOnly.MatchString(params.Phone) {
		return types.User{}, apperror.NewValidation("phone number must contain only digits")
	}

	// Advisory pre-check; the unique index settles concurrent registrations.
	if _, err := s.repo.GetByUsername(ctx, params.Username); err == nil {
		return types.User{}, apperror.NewConflict("username already taken")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperror.NewInternal("failed to check username", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, apperror.NewInternal("failed to hash password", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        params.Email,
		Phone:        params.Phone,
		Username:     params.Username,
		PasswordHash: string(hash),
		FullName:     params.Username,
		Ratings:      types.RatingMap{},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, apperror.NewConflict("username already taken")
		}
		return types.User{}, apperror.NewInternal("failed to create user", err)
	}

	s.events.Emit(ctx, events.UserRegistered, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"method":   "password",
	})
	return user, nil
}

// Authenticate verifies a username/password pair and returns the account.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperror.NewNotFound("user not found")
		}
		return types.User{}, apperror.NewInternal("failed to load user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, apperror.NewAuth("invalid credentials")
	}
	return user, nil
}

// Profile loads the account behind a verified token.
func (s *UserService) Profile(ctx context.Context, id int64) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperror.NewNotFound("user not found")
		}
		return types.User{}, apperror.NewInternal("failed to load user", err)
	}
	return user, nil
}

// UpdateLocation sets the free-text location.
func (s *UserService) UpdateLocation(ctx context.Context, id int64, location string) error {
	if strings.TrimSpace(location) == "" {
		return apperror.NewValidation("valid location is required")
	}
	if err := s.repo.UpdateLocation(ctx, id, location); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NewNotFound("user not found")
		}
		return apperror.NewInternal("failed to update location", err)
	}
	return nil
}

// UpdateImage records the avatar object key produced by the upload store.
func (s *UserService) UpdateImage(ctx context.Context, id int64, image string) error {
	if strings.TrimSpace(image) == "" {
		return apperror.NewValidation("no image uploaded")
	}
	if err := s.repo.UpdateImage(ctx, id, image); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NewNotFound("user not found")
		}
		return apperror.NewInternal("failed to update image", err)
	}
	return nil
}

// Rename changes the username. Tokens issued before the rename keep working
// because they identify the account by id, not by name.
func (s *UserService) Rename(ctx context.Context, id int64, newUsername string) error {
	newUsername = strings.TrimSpace(newUsername)
	if len(newUsername) < minUsernameLength {
		return apperror.NewValidation("invalid new username")
	}
	if err := s.repo.Rename(ctx, id, newUsername); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return apperror.NewConflict("username already taken")
		case errors.Is(err, store.ErrNotFound):
			return apperror.NewNotFound("user not found")
		default:
			return apperror.NewInternal("failed to update username", err)
		}
	}

	s.events.Emit(ctx, events.UserRenamed, map[string]any{
		"id":       id,
		"username": newUsername,
	})
	return nil
}

// Rate merges the rater's grade into the target's rating map. A repeat
// rating by the same rater overwrites the previous grade.
func (s *UserService) Rate(ctx context.Context, raterUsername, targetUsername string, grade float64) error {
	if grade < 0 || grade > 5 {
		return apperror.NewValidation("grade must be a number between 0 and 5")
	}
	if raterUsername == targetUsername {
		return apperror.NewForbidden("you cannot rate yourself")
	}

	if err := s.repo.Rate(ctx, targetUsername, raterUsername, grade); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return apperror.NewNotFound("user not found")
		case errors.Is(err, types.ErrSelfRating):
			return apperror.NewForbidden("you cannot rate yourself")
		default:
			return apperror.NewInternal("failed to rate user", err)
		}
	}

	s.events.Emit(ctx, events.UserRated, map[string]any{
		"rater":  raterUsername,
		"target": targetUsername,
		"grade":  grade,
	})
	return nil
}
