package auth

import (
	"context"
	"sync"

	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/users"
)

// ChangeFunc receives the signed-in user, or nil after sign-out.
type ChangeFunc func(user *models.User)

// Session is the client-side signed-in state.
type Session struct {
	auth Authenticator

	mu        sync.Mutex
	user      *models.User
	token     string
	nextID    int
	listeners map[int]ChangeFunc
}

func NewSession(auth Authenticator) *Session {
	return &Session{auth: auth, listeners: make(map[int]ChangeFunc)}
}

func (s *Session) Register(ctx context.Context, req users.CreateUserRequest) (models.User, error) {
	res, err := s.auth.Register(ctx, req)
	if err != nil {
		return models.User{}, err
	}
	s.set(&res.User, res.Token)
	return res.User, nil
}

func (s *Session) Login(ctx context.Context, email, password string) (models.User, error) {
	res, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	s.set(&res.User, res.Token)
	return res.User, nil
}

// Restore signs in with a token saved by an earlier session.
func (s *Session) Restore(ctx context.Context, token string) (models.User, error) {
	user, err := s.auth.Verify(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	s.set(&user, token)
	return user, nil
}

// Logout clears local state even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	err := s.auth.Logout(ctx, token)
	s.set(nil, "")
	return err
}

// CurrentUser returns nil when signed out.
func (s *Session) CurrentUser() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// OnAuthChange calls fn with the current user now and after every sign-in
// or sign-out, until the returned func is called.
func (s *Session) OnAuthChange(fn ChangeFunc) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := s.user
	s.mu.Unlock()

	fn(copyUser(current))

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) set(user *models.User, token string) {
	s.mu.Lock()
	s.user = copyUser(user)
	s.token = token
	fns := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyUser(user))
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
