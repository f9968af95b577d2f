package models

import "strings"

// CardImage holds the artwork URLs of a card.
type CardImage struct {
	ID            int64  `json:"id"`
	ImageURL      string `json:"image_url"`
	ImageURLSmall string `json:"image_url_small,omitempty"`
	ImageURLCrop  string `json:"image_url_cropped,omitempty"`
}

// Card is a card as returned by the card lookup service.
type Card struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	FrameType string      `json:"frameType,omitempty"`
	Desc      string      `json:"desc,omitempty"`
	ATK       *int        `json:"atk,omitempty"`
	DEF       *int        `json:"def,omitempty"`
	Level     int         `json:"level,omitempty"`
	Rank      int         `json:"rank,omitempty"`
	LinkVal   int         `json:"linkval,omitempty"`
	Race      string      `json:"race,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
	Archetype string      `json:"archetype,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Images    []CardImage `json:"card_images,omitempty"`
}

func (c Card) IsMonster() bool { return strings.Contains(c.Type, "Monster") }
func (c Card) IsSpell() bool   { return strings.Contains(c.Type, "Spell") }
func (c Card) IsTrap() bool    { return strings.Contains(c.Type, "Trap") }
