package decks

import "github.com/mcdev12/duelpad/go/internal/models"

// ComputeStats derives deck statistics. Type counts, average level and
// archetypes only look at the main deck.
func ComputeStats(main, extra, side []models.Card) models.DeckStats {
	stats := models.DeckStats{
		MainCount:  len(main),
		ExtraCount: len(extra),
		SideCount:  len(side),
		Archetypes: []string{},
	}

	seen := make(map[string]struct{})
	levels := 0
	for _, c := range main {
		switch {
		case c.IsMonster():
			stats.MonsterCount++
		case c.IsSpell():
			stats.SpellCount++
		case c.IsTrap():
			stats.TrapCount++
		}
		levels += c.Level
		if c.Archetype == "" {
			continue
		}
		if _, ok := seen[c.Archetype]; !ok {
			seen[c.Archetype] = struct{}{}
			stats.Archetypes = append(stats.Archetypes, c.Archetype)
		}
	}
	if len(main) > 0 {
		stats.AvgLevel = float64(levels) / float64(len(main))
	}
	return stats
}

// toItems stores one slot per card, embedding the card.
func toItems(cards []models.Card) []models.DeckItem {
	items := make([]models.DeckItem, 0, len(cards))
	for i := range cards {
		card := cards[i]
		items = append(items, models.DeckItem{CardID: card.ID, Quantity: 1, Card: &card})
	}
	return items
}
