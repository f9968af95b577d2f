package duel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculator(t *testing.T) {
	tests := []struct {
		name      string
		keys      []string
		positive  bool
		wantDelta int
		wantOK    bool
	}{
		{name: "empty", keys: nil, wantOK: false},
		{name: "subtract", keys: []string{"1", "0", "0", "0"}, wantDelta: -1000, wantOK: true},
		{name: "add", keys: []string{"5", "0", "0"}, positive: true, wantDelta: 500, wantOK: true},
		{name: "double", keys: []string{"8", "0", "0", "x2"}, wantDelta: -1600, wantOK: true},
		{name: "halve floors", keys: []string{"1", "5", "5", "5", "/2"}, wantDelta: -777, wantOK: true},
		{name: "digit cap", keys: []string{"9", "9", "9", "9", "9", "9"}, wantDelta: -99999, wantOK: true},
		{name: "double past cap", keys: []string{"9", "9", "9", "9", "9", "x2"}, positive: true, wantDelta: 199998, wantOK: true},
		{name: "double saturates", keys: []string{"9", "9", "9", "9", "9", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2", "x2"}, positive: true, wantDelta: MaxLifePoints, wantOK: true},
		{name: "backspace", keys: []string{"1", "2", "<"}, wantDelta: -1, wantOK: true},
		{name: "clear", keys: []string{"4", "C"}, wantOK: false},
		{name: "x2 on empty", keys: []string{"x2", "/2"}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Calculator
			for _, k := range tt.keys {
				assert.True(t, c.Press(k), "key %q", k)
			}
			delta, ok := c.Apply(tt.positive)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDelta, delta)
			assert.Equal(t, 0, c.Value(), "apply clears")
		})
	}
}

func TestCalculatorRejectsUnknownKeys(t *testing.T) {
	var c Calculator
	assert.False(t, c.Press("x3"))
	assert.False(t, c.Press("12"))
	assert.False(t, c.Press("a"))
}
