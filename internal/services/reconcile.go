package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/peerhub/apiserver/internal/apperror"
	"github.com/peerhub/apiserver/internal/events"
	"github.com/peerhub/apiserver/internal/store"
	"github.com/peerhub/apiserver/types"
)

const (
	// maxSequentialProbes bounds the base, base1, base2, ... username probe
	// before falling back to a random suffix, so adversarial collisions
	// cannot drag the loop out indefinitely.
	maxSequentialProbes = 50

	// maxCreateRetries bounds re-derivation when an insert loses a race on
	// the unique index.
	maxCreateRetries = 3

	defaultFirstName = "user"
)

// ExternalProfile is the identity assertion delivered by the OAuth provider.
type ExternalProfile struct {
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Picture       string
}

// Reconcile maps an external identity assertion to a local account: an
// existing account (matched by email) is returned unchanged; otherwise a new
// one is created with a derived unique username and no password hash.
func (s *UserService) Reconcile(ctx context.Context, profile ExternalProfile) (types.User, error) {
	email := strings.TrimSpace(strings.ToLower(profile.Email))
	if email == "" || !profile.EmailVerified {
		return types.User{}, apperror.NewValidation("a verified email is required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperror.NewInternal("failed to look up account", err)
	}

	first := strings.TrimSpace(profile.GivenName)
	if first == "" {
		first = defaultFirstName
	}
	last := strings.TrimSpace(profile.FamilyName)
	if last == "" {
		last = randomDigits(4)
	}

	for attempt := 0; attempt < maxCreateRetries; attempt++ {
		username, err := s.deriveUsername(ctx, first, last)
		if err != nil {
			return types.User{}, err
		}

		user, err = s.repo.Create(ctx, types.User{
			Email:    email,
			Username: username,
			FullName: strings.TrimSpace(first + " " + last),
			Image:    profile.Picture,
			Ratings:  types.RatingMap{},
		})
		if err == nil {
			s.events.Emit(ctx, events.UserRegistered, map[string]any{
				"id":       user.ID,
				"username": user.Username,
				"method":   "oauth",
			})
			return user, nil
		}
		if errors.Is(err, store.ErrConflict) {
			// Lost a race on username or email; re-derive and try again.
			continue
		}
		return types.User{}, apperror.NewInternal("failed to create account", err)
	}
	return types.User{}, apperror.NewInternal("could not allocate a unique username", nil)
}

// deriveUsername builds firstname.lastname (lower-cased, whitespace
// stripped) and resolves collisions with sequential suffixes: base, base1,
// base2, ... After maxSequentialProbes it switches to random suffixes.
func (s *UserService) deriveUsername(ctx context.Context, first, last string) (string, error) {
	base := sanitizeUsernamePart(first) + "." + sanitizeUsernamePart(last)

	for i := 0; i <= maxSequentialProbes; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		taken, err := s.usernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	candidate := base + randomDigits(6)
	taken, err := s.usernameTaken(ctx, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		return "", apperror.NewInternal("could not allocate a unique username", nil)
	}
	return candidate, nil
}

func (s *UserService) usernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, apperror.NewInternal("failed to check username", err)
}

func sanitizeUsernamePart(part string) string {
	part = strings.ToLower(part)
	return strings.Join(strings.Fields(part), "")
}

func randomDigits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String()
}
