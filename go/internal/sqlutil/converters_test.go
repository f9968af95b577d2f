package sqlutil

import (
	"encoding/json"
	"testing"

	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/duelpad/go/internal/models"
)

func TestToNullJSON(t *testing.T) {
	var deck *models.DeckRef
	val, err := ToNullJSON(deck)
	require.NoError(t, err)
	assert.False(t, val.Valid)

	val, err = ToNullJSON(map[string]int(nil))
	require.NoError(t, err)
	assert.False(t, val.Valid)

	val, err = ToNullJSON(&models.DeckRef{ID: "d1", Name: "Blue-Eyes"})
	require.NoError(t, err)
	assert.True(t, val.Valid)
	assert.JSONEq(t, `{"id":"d1","name":"Blue-Eyes"}`, string(val.RawMessage))

	_, err = ToNullJSON(func() {})
	assert.Error(t, err)
}

func TestFromNullJSON(t *testing.T) {
	dst := map[string]int{"kept": 1}
	require.NoError(t, FromNullJSON(pqtype.NullRawMessage{}, &dst, "duel_results"))
	assert.Equal(t, map[string]int{"kept": 1}, dst)

	var ref models.DeckRef
	val := pqtype.NullRawMessage{RawMessage: json.RawMessage(`{"id":"d2"}`), Valid: true}
	require.NoError(t, FromNullJSON(val, &ref, "player1_deck"))
	assert.Equal(t, "d2", ref.ID)

	bad := pqtype.NullRawMessage{RawMessage: json.RawMessage(`{`), Valid: true}
	err := FromNullJSON(bad, &ref, "player1_deck")
	assert.ErrorContains(t, err, "decode player1_deck")
}
