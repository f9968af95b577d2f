package cardapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, RateLimit: 1000, Burst: 100})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSearchSendsFilters(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards", r.URL.Path)
		assert.Equal(t, JSONContentType, r.Header.Get(AcceptHeader))
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		writeJSON(t, w, map[string]any{"cards": []models.Card{
			{ID: 46986414, Name: "Dark Magician", Type: "Normal Monster", Level: 7},
			{},
		}})
	})

	cards, err := c.Search(context.Background(), " magician ", Filters{Type: "Normal Monster", Attribute: "DARK", MinLevel: 7, MinATK: 2500})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Dark Magician", cards[0].Name)
	assert.Equal(t, map[string]string{
		"fname":     "magician",
		"type":      "Normal Monster",
		"attribute": "DARK",
		"level":     "7",
		"atk":       "2500",
	}, got)
}

func TestGetByIDNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	card, err := c.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, card)
}

func TestGetByIDServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.GetByID(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestByArchetypeAcceptsArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Blue-Eyes", r.URL.Query().Get("archetype"))
		writeJSON(t, w, []models.Card{{ID: 89631139, Name: "Blue-Eyes White Dragon", Archetype: "Blue-Eyes"}})
	})

	cards, err := c.ByArchetype(context.Background(), "Blue-Eyes")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, int64(89631139), cards[0].ID)

	_, err = c.ByArchetype(context.Background(), "  ")
	assert.Error(t, err)
}

func TestRandomTrimsToCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("num"))
		writeJSON(t, w, []models.Card{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}})
	})

	cards, err := c.Random(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}
