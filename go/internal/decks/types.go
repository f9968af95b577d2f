package decks

import (
	"errors"

	"github.com/mcdev12/duelpad/go/internal/models"
)

// Collection holds one document per deck.
const Collection = "decks"

const (
	defaultName     = "New Deck"
	defaultColor    = "#000000"
	defaultFormat   = "casual"
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	ErrNotFound         = errors.New("deck not found")
	ErrPermissionDenied = errors.New("deck belongs to another user")
	ErrValidation       = errors.New("validation failed")
)

// CreateDeckRequest represents the data needed to create a deck
type CreateDeckRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Visibility  models.DeckVisibility `json:"visibility"`
	Color       string                `json:"color"`
	Tags        []string              `json:"tags"`
	Format      string                `json:"format"`
	Main        []models.Card         `json:"main"`
	Extra       []models.Card         `json:"extra"`
	Side        []models.Card         `json:"side"`
}

// UpdateDeckRequest replaces the card lists. Empty metadata fields keep
// their stored value.
type UpdateDeckRequest = CreateDeckRequest

// Page is one page of a user's decks.
type Page struct {
	Items    []models.Deck `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
}

// ListOptions selects a page of one user's decks.
type ListOptions struct {
	Page           int
	PageSize       int
	IncludePrivate bool
}

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = defaultPageSize
	}
	if o.PageSize > maxPageSize {
		o.PageSize = maxPageSize
	}
	return o
}

func (o ListOptions) offset() int {
	return (o.Page - 1) * o.PageSize
}
