package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"

	"github.com/mcdev12/duelpad/go/clients/cardapi"
	"github.com/mcdev12/duelpad/go/internal/dbconfig"
	"github.com/mcdev12/duelpad/go/internal/decks"
	"github.com/mcdev12/duelpad/go/internal/models"
)

// DeckSeed describes one starter deck built from an archetype.
type DeckSeed struct {
	OwnerID     string   `json:"owner_id"`
	OwnerName   string   `json:"owner_name"`
	Name        string   `json:"name"`
	Archetype   string   `json:"archetype"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Public      bool     `json:"public"`
}

const (
	mainDeckSize  = 40
	extraDeckSize = 15
)

func main() {
	ctx := context.Background()

	path := "go/internal/tools/seed_decks/decks.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(1)
	}
	var seeds []DeckSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal seeds: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbconfig.NewConfigFromEnv().DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cards := cardapi.NewClient(cardapi.Config{BaseURL: os.Getenv("CARD_API_URL")})
	app := decks.NewApp(decks.NewSQLRepository(db), nil)

	var created, errs int
	for _, s := range seeds {
		pool, err := cards.ByArchetype(ctx, s.Archetype)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error fetching %s cards: %v\n", s.Archetype, err)
			errs++
			continue
		}

		visibility := models.DeckVisibilityPrivate
		if s.Public {
			visibility = models.DeckVisibilityPublic
		}
		mainDeck, extraDeck := split(pool)
		owner := models.User{UID: s.OwnerID, DisplayName: s.OwnerName}
		deck, err := app.Create(ctx, owner, decks.CreateDeckRequest{
			Name:        s.Name,
			Description: s.Description,
			Visibility:  visibility,
			Tags:        s.Tags,
			Main:        mainDeck,
			Extra:       extraDeck,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating deck %q: %v\n", s.Name, err)
			errs++
			continue
		}
		fmt.Printf("  %s  %-30s main=%d extra=%d\n", deck.ID, deck.Name, len(mainDeck), len(extraDeck))
		created++
	}

	fmt.Printf("Seeds: %d   Created: %d   Errors: %d\n", len(seeds), created, errs)
}

// split deals archetype cards into main and extra deck piles up to their sizes.
func split(pool []models.Card) (mainDeck, extraDeck []models.Card) {
	for _, c := range pool {
		if isExtraDeck(c) {
			if len(extraDeck) < extraDeckSize {
				extraDeck = append(extraDeck, c)
			}
			continue
		}
		if len(mainDeck) < mainDeckSize {
			mainDeck = append(mainDeck, c)
		}
	}
	return mainDeck, extraDeck
}

func isExtraDeck(c models.Card) bool {
	for _, frame := range []string{"fusion", "synchro", "xyz", "link"} {
		if strings.HasPrefix(c.FrameType, frame) {
			return true
		}
	}
	return false
}
