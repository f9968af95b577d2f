package cardapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/clients"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// Filters narrows a search. The service only supports exact values, so the
// minimums are sent as equality filters.
type Filters struct {
	Type      string `json:"type,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	MinLevel  int    `json:"minLevel,omitempty"`
	MinATK    int    `json:"minATK,omitempty"`
	MinDEF    int    `json:"minDEF,omitempty"`
}

func (f Filters) apply(q url.Values) {
	if f.Type != "" {
		q.Set(paramType, f.Type)
	}
	if f.Attribute != "" {
		q.Set(paramAttribute, f.Attribute)
	}
	if f.MinLevel > 0 {
		q.Set(paramLevel, strconv.Itoa(f.MinLevel))
	}
	if f.MinATK > 0 {
		q.Set(paramATK, strconv.Itoa(f.MinATK))
	}
	if f.MinDEF > 0 {
		q.Set(paramDEF, strconv.Itoa(f.MinDEF))
	}
}

// cardList accepts either a bare array or an object wrapping one.
type cardList []models.Card

func (l *cardList) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(b, (*[]models.Card)(l))
	}
	var wrapped struct {
		Cards []models.Card `json:"cards"`
		Data  []models.Card `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Cards != nil {
		*l = wrapped.Cards
	} else {
		*l = wrapped.Data
	}
	return nil
}

func (c *Client) listCards(ctx context.Context, q url.Values) ([]models.Card, error) {
	endpoint := cardsPath
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var list cardList
	if err := c.GetJSON(ctx, endpoint, &list); err != nil {
		return nil, err
	}
	cards := make([]models.Card, 0, len(list))
	for _, card := range list {
		if card.ID == 0 && card.Name == "" {
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Search finds cards whose name matches term.
func (c *Client) Search(ctx context.Context, term string, filters Filters) ([]models.Card, error) {
	q := url.Values{}
	if term = strings.TrimSpace(term); term != "" {
		q.Set(paramName, term)
	}
	filters.apply(q)

	cards, err := c.listCards(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search cards: %w", err)
	}
	log.Debug().Str("term", term).Int("results", len(cards)).Msg("card search")
	return cards, nil
}

// GetByID returns the card, or nil when the service does not know it.
func (c *Client) GetByID(ctx context.Context, id int64) (*models.Card, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid card id %d", id)
	}
	var card models.Card
	err := c.GetJSON(ctx, fmt.Sprintf("%s/%d", cardsPath, id), &card)
	if clients.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return &card, nil
}

// ByArchetype lists every card of an archetype.
func (c *Client) ByArchetype(ctx context.Context, archetype string) ([]models.Card, error) {
	archetype = strings.TrimSpace(archetype)
	if archetype == "" {
		return nil, fmt.Errorf("archetype is required")
	}
	cards, err := c.listCards(ctx, url.Values{paramArchetype: {archetype}})
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for archetype %s: %w", archetype, err)
	}
	return cards, nil
}

// Random returns up to count cards in random order.
func (c *Client) Random(ctx context.Context, count int) ([]models.Card, error) {
	if count <= 0 {
		count = 10
	}
	cards, err := c.listCards(ctx, url.Values{
		paramNum:    {strconv.Itoa(count)},
		paramOffset: {"0"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get random cards: %w", err)
	}
	rand.Shuffle(len(cards), func(i, j int) { cards[i], cards[j] = cards[j], cards[i] })
	if len(cards) > count {
		cards = cards[:count]
	}
	return cards, nil
}
