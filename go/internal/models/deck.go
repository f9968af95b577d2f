package models

import "time"

// DeckVisibility controls whether other users can list a deck.
type DeckVisibility string

const (
	DeckVisibilityPublic  DeckVisibility = "public"
	DeckVisibilityPrivate DeckVisibility = "private"
)

// DeckItem is one card slot in a deck section.
type DeckItem struct {
	CardID   int64 `json:"card_id"`
	Quantity int   `json:"quantity"`
	Card     *Card `json:"card,omitempty"`
}

// DeckVersion is an immutable snapshot of a deck's contents.
type DeckVersion struct {
	VersionNumber int        `json:"version_number"`
	CreatedAt     time.Time  `json:"created_at"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	MainDeck      []DeckItem `json:"main_deck"`
	ExtraDeck     []DeckItem `json:"extra_deck"`
	SideDeck      []DeckItem `json:"side_deck"`
}

// DeckStats is derived from the main deck on every write.
type DeckStats struct {
	MainCount    int      `json:"main_count"`
	ExtraCount   int      `json:"extra_count"`
	SideCount    int      `json:"side_count"`
	MonsterCount int      `json:"monster_count"`
	SpellCount   int      `json:"spell_count"`
	TrapCount    int      `json:"trap_count"`
	AvgLevel     float64  `json:"avg_level"`
	Archetypes   []string `json:"archetypes"`
}

// Deck represents a user's deck.
type Deck struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Username       string         `json:"username"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Visibility     DeckVisibility `json:"visibility"`
	Color          string         `json:"color"`
	Tags           []string       `json:"tags"`
	Format         string         `json:"format"`
	MainDeck       []DeckItem     `json:"main_deck"`
	ExtraDeck      []DeckItem     `json:"extra_deck"`
	SideDeck       []DeckItem     `json:"side_deck"`
	CurrentVersion int            `json:"current_version"`
	Versions       []DeckVersion  `json:"versions"`
	Stats          DeckStats      `json:"stats"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Ref returns the reference stored on duel sessions.
func (d Deck) Ref() *DeckRef {
	return &DeckRef{ID: d.ID, Name: d.Name}
}
