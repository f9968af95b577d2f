// Package auth issues and verifies session tokens for registered users and
// keeps the client-side signed-in state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/users"
)

const issuer = "duelpad"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrRevokedToken = errors.New("token revoked")
)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Result is returned by Register and Login.
type Result struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// Directory is the user store the service authenticates against.
type Directory interface {
	Register(ctx context.Context, req users.CreateUserRequest) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
}

// Authenticator is what a client session signs in through. *Service
// satisfies it in-process and *HTTPAuthenticator over the gateway.
type Authenticator interface {
	Register(ctx context.Context, req users.CreateUserRequest) (Result, error)
	Login(ctx context.Context, email, password string) (Result, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (models.User, error)
}

type Service struct {
	users  Directory
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

var _ Authenticator = (*Service)(nil)

func NewService(dir Directory, secret string, ttl time.Duration, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		users:   dir,
		secret:  []byte(secret),
		ttl:     ttl,
		clock:   clock,
		revoked: make(map[string]time.Time),
	}
}

func (s *Service) Register(ctx context.Context, req users.CreateUserRequest) (Result, error) {
	user, err := s.users.Register(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return s.issue(*user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		return Result{}, err
	}
	log.Info().Str("uid", user.UID).Msg("user signed in")
	return s.issue(*user)
}

// Logout revokes the token until it would have expired anyway. Expired
// tokens are accepted silently.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if errors.Is(err, ErrExpiredToken) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for id, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, id)
		}
	}
	s.revoked[claims.ID] = claims.ExpiresAt.Time
	log.Info().Str("uid", claims.Subject).Msg("user signed out")
	return nil
}

// Verify returns the user a valid, unrevoked token belongs to.
func (s *Service) Verify(ctx context.Context, token string) (models.User, error) {
	claims, err := s.parse(token)
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	_, revoked := s.revoked[claims.ID]
	s.mu.Unlock()
	if revoked {
		return models.User{}, ErrRevokedToken
	}

	user, err := s.users.GetUser(ctx, claims.Subject)
	if errors.Is(err, users.ErrNotFound) {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}
	return *user, nil
}

func (s *Service) issue(user models.User) (Result, error) {
	now := s.clock.Now()
	expires := now.Add(s.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email: user.Email,
		Name:  user.DisplayName,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Result{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Result{Token: signed, ExpiresAt: expires.UTC(), User: user.Public()}, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
