package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcdev12/duelpad/go/clients/cardapi"
	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/decks"
	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/users"
)

type fakeCards struct {
	cards map[int64]models.Card
}

func (f *fakeCards) Search(ctx context.Context, term string, filters cardapi.Filters) ([]models.Card, error) {
	var out []models.Card
	for _, c := range f.cards {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(term)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCards) GetByID(ctx context.Context, id int64) (*models.Card, error) {
	c, ok := f.cards[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCards) ByArchetype(ctx context.Context, archetype string) ([]models.Card, error) {
	return nil, nil
}

func (f *fakeCards) Random(ctx context.Context, count int) ([]models.Card, error) {
	return nil, nil
}

type harness struct {
	store *docstore.MemoryStore
	srv   *httptest.Server
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStoreWithClock(clock)
	t.Cleanup(func() { _ = store.Close() })

	dir := users.NewApp(users.NewRepository(store), clock).WithHashCost(bcrypt.MinCost)
	authSvc := auth.NewService(dir, "gateway-secret", time.Hour, clock)

	cfg := DefaultConfig()
	cfg.AuthRateLimit = 1000
	cfg.AuthBurst = 1000
	svc, err := NewService(cfg, Dependencies{
		Store: store,
		Auth:  authSvc,
		Decks: decks.NewApp(decks.NewDocRepository(store), clock),
		Cards: &fakeCards{cards: map[int64]models.Card{
			46986414: {ID: 46986414, Name: "Dark Magician", Type: "Normal Monster", Level: 7},
		}},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return &harness{store: store, srv: srv, svc: svc}
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decodeErr(t *testing.T, body []byte) apierr.Error {
	t.Helper()
	var e apierr.Error
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestDocsCRUD(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/docs/duels", AddRequest{Data: docstore.Fields{"status": "waiting", "roomCode": "ABC123"}}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var added AddResponse
	require.NoError(t, json.Unmarshal(body, &added))
	require.NotEmpty(t, added.ID)

	resp, body = h.do(t, http.MethodGet, "/api/docs/duels/"+added.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap docstore.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.Exists)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "waiting", snap.Data["status"])

	version := uint64(1)
	resp, body = h.do(t, http.MethodPatch, "/api/docs/duels/"+added.ID, PatchRequest{
		Updates:         []docstore.Update{docstore.Set("status", "active"), docstore.Set("player1.lp", 8000)},
		ExpectedVersion: &version,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, "active", snap.Data["status"])

	// stale precondition
	resp, body = h.do(t, http.MethodPatch, "/api/docs/duels/"+added.ID, PatchRequest{
		Updates:         []docstore.Update{docstore.Set("status", "finished")},
		ExpectedVersion: &version,
	}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apierr.CodeConflict, decodeErr(t, body).Code)

	resp, body = h.do(t, http.MethodPost, "/api/query/duels", QueryRequest{Filters: []docstore.Filter{docstore.Where("roomCode", "ABC123")}}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q QueryResponse
	require.NoError(t, json.Unmarshal(body, &q))
	require.Len(t, q.Snapshots, 1)
	assert.Equal(t, added.ID, q.Snapshots[0].ID)

	resp, _ = h.do(t, http.MethodDelete, "/api/docs/duels/"+added.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = h.do(t, http.MethodPatch, "/api/docs/duels/"+added.ID, PatchRequest{
		Updates: []docstore.Update{docstore.Set("status", "active")},
	}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apierr.CodeNotFound, decodeErr(t, body).Code)
}

func TestDocsRejectsUnknownCollection(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/docs/users/abc", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decodeErr(t, body).Message, "users")

	resp, _ = h.do(t, http.MethodPatch, "/api/docs/duels/abc", PatchRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestDocStreamDeliversCurrentThenChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.store.Add(ctx, "duels", docstore.Fields{"status": "waiting"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/docs?collection=duels&id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	require.Equal(t, MessageSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, uint64(1), first.Snapshot.Version)
	assert.Equal(t, "waiting", first.Snapshot.Data["status"])

	_, err = h.store.Update(ctx, "duels", id, []docstore.Update{docstore.Set("status", "active")})
	require.NoError(t, err)

	next := readFrame(t, conn)
	require.NotNil(t, next.Snapshot)
	assert.Equal(t, uint64(2), next.Snapshot.Version)
	assert.Equal(t, "active", next.Snapshot.Data["status"])

	assert.Eventually(t, func() bool {
		return h.svc.Stats().TotalConnections == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, h.store.Delete(ctx, "duels", id))
	gone := readFrame(t, conn)
	require.NotNil(t, gone.Snapshot)
	assert.False(t, gone.Snapshot.Exists)
}

func TestDocStreamValidatesParams(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, http.MethodGet, "/ws/docs?collection=duels", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/ws/docs?collection=secrets&id=1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthThroughHTTPAuthenticator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client := auth.NewHTTPAuthenticator(h.srv.URL)

	res, err := client.Register(ctx, users.CreateUserRequest{Email: "kaiba@example.com", Password: "blue-eyes", DisplayName: "Kaiba"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Empty(t, res.User.PasswordHash)

	_, err = client.Register(ctx, users.CreateUserRequest{Email: "kaiba@example.com", Password: "blue-eyes"})
	assert.ErrorIs(t, err, users.ErrEmailTaken)

	_, err = client.Login(ctx, "kaiba@example.com", "red-eyes")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	login, err := client.Login(ctx, "kaiba@example.com", "blue-eyes")
	require.NoError(t, err)

	me, err := client.Verify(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, "Kaiba", me.DisplayName)

	require.NoError(t, client.Logout(ctx, login.Token))
	_, err = client.Verify(ctx, login.Token)
	assert.ErrorIs(t, err, auth.ErrRevokedToken)
}

func TestAuthRateLimited(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := docstore.NewMemoryStoreWithClock(clock)
	defer store.Close()
	dir := users.NewApp(users.NewRepository(store), clock).WithHashCost(bcrypt.MinCost)

	cfg := DefaultConfig()
	cfg.AuthRateLimit = 0.001
	cfg.AuthBurst = 2
	svc, err := NewService(cfg, Dependencies{Store: store, Auth: auth.NewService(dir, "s", time.Hour, clock)})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	var last int
	for range 3 {
		resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{"email":"a@b.co","password":"xxxxxx"}`))
		require.NoError(t, err)
		resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestDecksRoutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	client := auth.NewHTTPAuthenticator(h.srv.URL)

	owner, err := client.Register(ctx, users.CreateUserRequest{Email: "yugi@example.com", Password: "puzzle1"})
	require.NoError(t, err)
	other, err := client.Register(ctx, users.CreateUserRequest{Email: "joey@example.com", Password: "redeyes"})
	require.NoError(t, err)

	resp, _ := h.do(t, http.MethodPost, "/api/decks", decks.CreateDeckRequest{Name: "Spellcasters"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := h.do(t, http.MethodPost, "/api/decks", decks.CreateDeckRequest{
		Name: "Spellcasters",
		Main: []models.Card{{ID: 46986414, Name: "Dark Magician", Type: "Normal Monster", Level: 7}},
	}, owner.Token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var deck models.Deck
	require.NoError(t, json.Unmarshal(body, &deck))
	assert.Equal(t, owner.User.UID, deck.UserID)
	assert.Equal(t, models.DeckVisibilityPrivate, deck.Visibility)

	resp, _ = h.do(t, http.MethodGet, "/api/decks/"+deck.ID, nil, owner.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// private decks are invisible to others
	resp, _ = h.do(t, http.MethodGet, "/api/decks/"+deck.ID, nil, other.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/api/decks/"+deck.ID, decks.UpdateDeckRequest{Name: "Stolen"}, other.Token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = h.do(t, http.MethodPut, "/api/decks/"+deck.ID, decks.UpdateDeckRequest{Visibility: models.DeckVisibilityPublic}, owner.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &deck))
	assert.Equal(t, 2, deck.CurrentVersion)

	resp, body = h.do(t, http.MethodGet, "/api/decks/user/"+owner.User.UID+"?page_size=5", nil, other.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page decks.Page
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	resp, _ = h.do(t, http.MethodDelete, "/api/decks/"+deck.ID, nil, owner.Token)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCardsRoutes(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/cards/search?q=magician", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cards []models.Card
	require.NoError(t, json.Unmarshal(body, &cards))
	require.Len(t, cards, 1)
	assert.Equal(t, "Dark Magician", cards[0].Name)

	resp, body = h.do(t, http.MethodGet, "/api/cards/random", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = h.do(t, http.MethodGet, "/api/cards/1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/api/cards/dark", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthInfoAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, body = h.do(t, http.MethodGet, "/info", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, []string{"duels", "matchHistory"}, info.Collections)

	resp, body = h.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "duelpad_gateway_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/docs/duels/x", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
