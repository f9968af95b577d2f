package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/decks"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// DeckService is the deck application the gateway exposes.
type DeckService interface {
	Create(ctx context.Context, owner models.User, req decks.CreateDeckRequest) (*models.Deck, error)
	Update(ctx context.Context, owner models.User, id string, req decks.UpdateDeckRequest) (*models.Deck, error)
	Get(ctx context.Context, viewerUID, id string) (*models.Deck, error)
	ListForUser(ctx context.Context, viewerUID, userID string, opts decks.ListOptions) (decks.Page, error)
	Delete(ctx context.Context, owner models.User, id string) error
}

// DecksHandler serves /api/decks.
type DecksHandler struct {
	decks DeckService
	auth  auth.Authenticator
}

func NewDecksHandler(d DeckService, a auth.Authenticator) *DecksHandler {
	return &DecksHandler{decks: d, auth: a}
}

func (h *DecksHandler) Routes(r chi.Router) {
	r.Route("/decks", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.auth, false))
			r.Get("/{id}", h.get)
			r.Get("/user/{userID}", h.listForUser)
		})
		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.auth, true))
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
		})
	})
}

func (h *DecksHandler) create(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req decks.CreateDeckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	deck, err := h.decks.Create(r.Context(), user, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deck)
}

func (h *DecksHandler) update(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req decks.UpdateDeckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	deck, err := h.decks.Update(r.Context(), user, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

func (h *DecksHandler) get(w http.ResponseWriter, r *http.Request) {
	viewer, _ := UserFrom(r.Context())
	deck, err := h.decks.Get(r.Context(), viewer.UID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

func (h *DecksHandler) listForUser(w http.ResponseWriter, r *http.Request) {
	viewer, _ := UserFrom(r.Context())
	q := r.URL.Query()
	opts := decks.ListOptions{IncludePrivate: true}
	if v := q.Get("page"); v != "" {
		opts.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		opts.PageSize, _ = strconv.Atoi(v)
	}
	if v := q.Get("include_private"); v != "" {
		opts.IncludePrivate, _ = strconv.ParseBool(v)
	}

	page, err := h.decks.ListForUser(r.Context(), viewer.UID, chi.URLParam(r, "userID"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *DecksHandler) delete(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	if err := h.decks.Delete(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
