package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcdev12/duelpad/go/clients/cardapi"
	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// CardLookup is the card catalogue the gateway proxies.
type CardLookup interface {
	Search(ctx context.Context, term string, filters cardapi.Filters) ([]models.Card, error)
	GetByID(ctx context.Context, id int64) (*models.Card, error)
	ByArchetype(ctx context.Context, archetype string) ([]models.Card, error)
	Random(ctx context.Context, count int) ([]models.Card, error)
}

// CardsHandler serves /api/cards.
type CardsHandler struct {
	cards CardLookup
}

func NewCardsHandler(c CardLookup) *CardsHandler {
	return &CardsHandler{cards: c}
}

func (h *CardsHandler) Routes(r chi.Router) {
	r.Route("/cards", func(r chi.Router) {
		r.Get("/search", h.search)
		r.Get("/random", h.random)
		r.Get("/archetype/{name}", h.archetype)
		r.Get("/{id}", h.get)
	})
}

func (h *CardsHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := cardapi.Filters{
		Type:      q.Get("type"),
		Attribute: q.Get("attribute"),
	}
	filters.MinLevel, _ = strconv.Atoi(q.Get("level"))
	filters.MinATK, _ = strconv.Atoi(q.Get("atk"))
	filters.MinDEF, _ = strconv.Atoi(q.Get("def"))

	cards, err := h.cards.Search(r.Context(), q.Get("q"), filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cards))
}

func (h *CardsHandler) random(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	cards, err := h.cards.Random(r.Context(), count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cards))
}

func (h *CardsHandler) archetype(w http.ResponseWriter, r *http.Request) {
	cards, err := h.cards.ByArchetype(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cards))
}

func (h *CardsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "card id must be a number")
		return
	}
	card, err := h.cards.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if card == nil {
		apierr.Write(w, http.StatusNotFound, apierr.CodeNotFound, "card not found")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func nonNil(cards []models.Card) []models.Card {
	if cards == nil {
		return []models.Card{}
	}
	return cards
}
