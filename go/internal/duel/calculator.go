package duel

import (
	"strconv"
	"strings"
)

// maxCalculatorDigits bounds typed input; x2 may grow past it up to
// MaxLifePoints.
const maxCalculatorDigits = 5

// Calculator is the life-point keypad: digits build an amount, x2 and /2
// rework it, and apply+ or apply- turn it into a signed delta.
type Calculator struct {
	value string
}

// Value returns the current amount, 0 when nothing is entered.
func (c *Calculator) Value() int {
	n, _ := strconv.Atoi(c.value)
	return n
}

// Clear empties the calculator.
func (c *Calculator) Clear() { c.value = "" }

// Press handles one non-apply key: a digit, "C", "<" (backspace), "x2" or
// "/2". It reports whether the key was recognised.
func (c *Calculator) Press(key string) bool {
	switch strings.ToLower(key) {
	case "c":
		c.value = ""
	case "<":
		if c.value != "" {
			c.value = c.value[:len(c.value)-1]
		}
	case "x2", "*2":
		if c.value != "" {
			c.value = strconv.Itoa(min(c.Value()*2, MaxLifePoints))
		}
	case "/2":
		if c.value != "" {
			c.value = strconv.Itoa(c.Value() / 2)
		}
	default:
		if len(key) != 1 || key[0] < '0' || key[0] > '9' {
			return false
		}
		if len(c.value) < maxCalculatorDigits {
			c.value += key
		}
	}
	return true
}

// Apply returns the signed delta for the current amount and clears the
// calculator. ok is false when nothing was entered.
func (c *Calculator) Apply(positive bool) (delta int, ok bool) {
	if c.value == "" {
		return 0, false
	}
	delta = c.Value()
	if !positive {
		delta = -delta
	}
	c.value = ""
	return delta, true
}
