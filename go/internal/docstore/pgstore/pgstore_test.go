package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key        string
		collection string
		id         string
		ok         bool
	}{
		{"duels/abc", "duels", "abc", true},
		{"matchHistory/1/2", "matchHistory", "1/2", true},
		{"duels/", "duels", "", false},
		{"/abc", "", "abc", false},
		{"duels", "duels", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, id, ok := splitKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.collection, c)
				assert.Equal(t, tt.id, id)
			}
		})
	}
}
