package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/duelpad/go/internal/models"
)

func TestPrintLobby(t *testing.T) {
	var out bytes.Buffer
	printLobby(&out, nil)
	assert.Equal(t, "no open sessions\n", out.String())

	out.Reset()
	created := time.Date(2025, 6, 1, 18, 5, 0, 0, time.Local)
	printLobby(&out, []models.DuelSession{{ID: "abc", Player1Name: "Mai", CreatedAt: created}})
	assert.Equal(t, "abc\tMai\t18:05\n", out.String())
}
