package users

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"calling-platform/internal/auth"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Calling numbers are six decimal digits, so the space is small enough that
// collisions are a routine event, not an anomaly. Registration retries with
// a fresh number a bounded number of times.
const (
	numberDigits       = 6
	maxNumberAttempts  = 5
	minUsernameLength  = 3
	minPasswordLength  = 6
)

// Service implements registration and login.
type Service struct {
	repo   Repository
	tokens *auth.Manager

	// clock and randInt are injectable for deterministic tests.
	clock   func() time.Time
	randInt func(n int) int
}

func NewService(repo Repository, tokens *auth.Manager) *Service {
	return &Service{
		repo:    repo,
		tokens:  tokens,
		clock:   time.Now,
		randInt: rand.Intn,
	}
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account, assigns a unique calling number and issues a
// token pair. A calling-number collision is retried with a fresh number.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, auth.TokenPair, error) {
	username := strings.TrimSpace(req.Username)
	if len(username) < minUsernameLength {
		return User{}, auth.TokenPair{}, fmt.Errorf("%w: username must be at least %d characters", ErrInvalidArgument, minUsernameLength)
	}
	if len(req.Password) < minPasswordLength {
		return User{}, auth.TokenPair{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidArgument, minPasswordLength)
	}

	if _, err := s.repo.ByUsername(ctx, username); err == nil {
		return User{}, auth.TokenPair{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, auth.TokenPair{}, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}

	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		display = username
	}

	now := s.clock().UTC()
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  display,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		u.CallingNumber = s.newCallingNumber()
		err = s.repo.Create(ctx, u)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) {
			return User{}, auth.TokenPair{}, err
		}
		// Could be a username race rather than a number collision.
		if _, lookErr := s.repo.ByUsername(ctx, username); lookErr == nil {
			return User{}, auth.TokenPair{}, ErrUsernameTaken
		}
	}
	if err != nil {
		return User{}, auth.TokenPair{}, fmt.Errorf("assign calling number: %w", err)
	}

	pair, err := s.tokens.IssuePair(now, u.ID, u.CallingNumber)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	return u, pair, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown username
// and wrong password are deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (User, auth.TokenPair, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return User{}, auth.TokenPair{}, ErrInvalidArgument
	}

	u, err := s.repo.ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, auth.TokenPair{}, ErrInvalidCredentials
		}
		return User{}, auth.TokenPair{}, err
	}
	if err := auth.VerifyPassword(u.PasswordHash, req.Password); err != nil {
		return User{}, auth.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(s.clock().UTC(), u.ID, u.CallingNumber)
	if err != nil {
		return User{}, auth.TokenPair{}, err
	}
	return u, pair, nil
}

// ByCallingNumber resolves a dialable number to its account.
func (s *Service) ByCallingNumber(ctx context.Context, number string) (User, error) {
	if strings.TrimSpace(number) == "" {
		return User{}, ErrInvalidArgument
	}
	return s.repo.ByCallingNumber(ctx, number)
}

func (s *Service) newCallingNumber() string {
	// First digit is never zero so numbers keep a fixed display width.
	n := s.randInt(9*pow10(numberDigits-1)) + pow10(numberDigits-1)
	return fmt.Sprintf("%d", n)
}

func pow10(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
