package decks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/models"
)

// DecksRepository defines what the app layer needs from the repository
type DecksRepository interface {
	CreateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error)
	GetDeck(ctx context.Context, id string) (*models.Deck, error)
	UpdateDeck(ctx context.Context, deck models.Deck) (*models.Deck, error)
	DeleteDeck(ctx context.Context, id string) error
	// ListDecksByUser returns one page, newest first, and the total count.
	ListDecksByUser(ctx context.Context, userID string, includePrivate bool, limit, offset int) ([]models.Deck, int, error)
}

// App handles deck business logic
type App struct {
	repo  DecksRepository
	clock clockwork.Clock
}

// NewApp creates a new decks App
func NewApp(repo DecksRepository, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, clock: clock}
}

// Create stores a new deck owned by owner at version 1.
func (a *App) Create(ctx context.Context, owner models.User, req CreateDeckRequest) (*models.Deck, error) {
	if owner.UID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if err := validateVisibility(req.Visibility); err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	deck := models.Deck{
		UserID:         owner.UID,
		Username:       username(owner),
		Name:           orDefault(req.Name, defaultName),
		Description:    strings.TrimSpace(req.Description),
		Visibility:     visibilityOrDefault(req.Visibility, models.DeckVisibilityPrivate),
		Color:          orDefault(req.Color, defaultColor),
		Tags:           tagsOrEmpty(req.Tags),
		Format:         orDefault(req.Format, defaultFormat),
		MainDeck:       toItems(req.Main),
		ExtraDeck:      toItems(req.Extra),
		SideDeck:       toItems(req.Side),
		CurrentVersion: 1,
		Stats:          ComputeStats(req.Main, req.Extra, req.Side),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	deck.Versions = []models.DeckVersion{versionOf(deck, now)}

	created, err := a.repo.CreateDeck(ctx, deck)
	if err != nil {
		return nil, fmt.Errorf("failed to create deck: %w", err)
	}

	log.Info().Str("deck_id", created.ID).Str("user_id", owner.UID).Str("name", created.Name).Msg("created deck")
	return created, nil
}

// Update replaces the deck contents and appends a new version. Only the
// owner may update a deck.
func (a *App) Update(ctx context.Context, owner models.User, id string, req UpdateDeckRequest) (*models.Deck, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: deck id is required", ErrValidation)
	}
	if err := validateVisibility(req.Visibility); err != nil {
		return nil, err
	}

	deck, err := a.repo.GetDeck(ctx, id)
	if err != nil {
		return nil, err
	}
	if deck.UserID != owner.UID {
		return nil, fmt.Errorf("update deck %s: %w", id, ErrPermissionDenied)
	}

	now := a.clock.Now().UTC()
	deck.Name = orDefault(req.Name, deck.Name)
	deck.Description = orDefault(req.Description, deck.Description)
	deck.Visibility = visibilityOrDefault(req.Visibility, deck.Visibility)
	deck.Color = orDefault(req.Color, deck.Color)
	if req.Tags != nil {
		deck.Tags = req.Tags
	}
	deck.Format = orDefault(req.Format, deck.Format)
	deck.MainDeck = toItems(req.Main)
	deck.ExtraDeck = toItems(req.Extra)
	deck.SideDeck = toItems(req.Side)
	deck.Stats = ComputeStats(req.Main, req.Extra, req.Side)
	deck.CurrentVersion++
	deck.UpdatedAt = now
	deck.Versions = append(deck.Versions, versionOf(*deck, now))

	updated, err := a.repo.UpdateDeck(ctx, *deck)
	if err != nil {
		return nil, fmt.Errorf("failed to update deck: %w", err)
	}

	log.Info().Str("deck_id", id).Int("version", updated.CurrentVersion).Msg("updated deck")
	return updated, nil
}

// Get returns a deck. Private decks are only visible to their owner.
func (a *App) Get(ctx context.Context, viewerUID, id string) (*models.Deck, error) {
	deck, err := a.repo.GetDeck(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if deck.Visibility == models.DeckVisibilityPrivate && deck.UserID != viewerUID {
		return nil, fmt.Errorf("deck %s: %w", id, ErrNotFound)
	}
	return deck, nil
}

// ListForUser pages through userID's decks, newest first. Private decks are
// included only when asked for by their owner.
func (a *App) ListForUser(ctx context.Context, viewerUID, userID string, opts ListOptions) (Page, error) {
	if userID == "" {
		return Page{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	opts = opts.normalized()
	includePrivate := opts.IncludePrivate && viewerUID == userID

	items, total, err := a.repo.ListDecksByUser(ctx, userID, includePrivate, opts.PageSize, opts.offset())
	if err != nil {
		return Page{}, fmt.Errorf("failed to list decks: %w", err)
	}
	if items == nil {
		items = []models.Deck{}
	}
	return Page{Items: items, Page: opts.Page, PageSize: opts.PageSize, Total: total}, nil
}

// Delete removes a deck. Only the owner may delete it.
func (a *App) Delete(ctx context.Context, owner models.User, id string) error {
	deck, err := a.repo.GetDeck(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if deck.UserID != owner.UID {
		return fmt.Errorf("delete deck %s: %w", id, ErrPermissionDenied)
	}
	if err := a.repo.DeleteDeck(ctx, deck.ID); err != nil {
		return fmt.Errorf("failed to delete deck: %w", err)
	}

	log.Info().Str("deck_id", deck.ID).Str("user_id", owner.UID).Msg("deleted deck")
	return nil
}

func versionOf(d models.Deck, at time.Time) models.DeckVersion {
	return models.DeckVersion{
		VersionNumber: d.CurrentVersion,
		CreatedAt:     at,
		Name:          d.Name,
		Description:   d.Description,
		MainDeck:      d.MainDeck,
		ExtraDeck:     d.ExtraDeck,
		SideDeck:      d.SideDeck,
	}
}

func validateVisibility(v models.DeckVisibility) error {
	switch v {
	case "", models.DeckVisibilityPublic, models.DeckVisibilityPrivate:
		return nil
	}
	return fmt.Errorf("%w: unknown visibility %q", ErrValidation, v)
}

func visibilityOrDefault(v, def models.DeckVisibility) models.DeckVisibility {
	if v == "" {
		return def
	}
	return v
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func username(u models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return "Anonymous"
}
