package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/users"
)

// AuthHandler serves /api/auth.
type AuthHandler struct {
	auth    auth.Authenticator
	limiter *IPRateLimiter
}

func NewAuthHandler(a auth.Authenticator, limiter *IPRateLimiter) *AuthHandler {
	return &AuthHandler{auth: a, limiter: limiter}
}

func (h *AuthHandler) Routes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.With(authenticate(h.auth, true)).Post("/logout", h.logout)
		r.With(authenticate(h.auth, true)).Get("/me", h.me)
	})
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req users.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	res, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), tokenFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, user)
}
