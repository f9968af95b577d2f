package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcdev12/duelpad/go/internal/models"
)

const minPasswordLength = 6

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	CreateUser(ctx context.Context, user models.User) (*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, uid string, req UpdateUserRequest) (*models.User, error)
}

// App handles users business logic
type App struct {
	repo  UsersRepository
	clock clockwork.Clock
	cost  int
}

// NewApp creates a new users App
func NewApp(repo UsersRepository, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		repo:  repo,
		clock: clock,
		cost:  bcrypt.DefaultCost,
	}
}

// WithHashCost lowers or raises the bcrypt cost; tests use bcrypt.MinCost.
func (a *App) WithHashCost(cost int) *App {
	a.cost = cost
	return a
}

// Register creates a user with a hashed password. Users are returned
// without the hash.
func (a *App) Register(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	req.Email = normalizeEmail(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := a.validateCreateUserRequest(req); err != nil {
		return nil, err
	}

	if existing, err := a.repo.GetUserByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, fmt.Errorf("%s: %w", req.Email, ErrEmailTaken)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName, _, _ = strings.Cut(req.Email, "@")
	}

	user, err := a.repo.CreateUser(ctx, models.User{
		DisplayName:  displayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    a.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("uid", user.UID).Str("email", user.Email).Msg("registered user")
	public := user.Public()
	return &public, nil
}

// Authenticate checks an email and password pair.
func (a *App) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := a.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	public := user.Public()
	return &public, nil
}

// GetUser retrieves a user by uid
func (a *App) GetUser(ctx context.Context, uid string) (*models.User, error) {
	user, err := a.repo.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

// UpdateUser changes profile fields
func (a *App) UpdateUser(ctx context.Context, uid string, req UpdateUserRequest) (*models.User, error) {
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		return nil, fmt.Errorf("%w: display name cannot be empty", ErrValidation)
	}
	user, err := a.repo.UpdateUser(ctx, uid, req)
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

func (a *App) validateCreateUserRequest(req CreateUserRequest) error {
	if req.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: email format is invalid", ErrValidation)
	}
	if len(req.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
