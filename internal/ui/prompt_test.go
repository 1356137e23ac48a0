package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyRank(t *testing.T) {
	items := []string{"editor", "fonts-extra", "fonts", "spellcheck"}

	t.Run("empty query keeps order", func(t *testing.T) {
		assert.Equal(t, []int{0, 1, 2, 3}, FuzzyRank("  ", items))
	})

	t.Run("closest match first", func(t *testing.T) {
		got := FuzzyRank("fonts", items)
		assert.Equal(t, []int{2, 1}, got)
	})

	t.Run("case insensitive", func(t *testing.T) {
		assert.Equal(t, []int{0}, FuzzyRank("EDT", items))
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, FuzzyRank("zzz", items))
	})
}

func TestValidateNonEmpty(t *testing.T) {
	assert.NoError(t, ValidateNonEmpty("value"))
	assert.Error(t, ValidateNonEmpty(""))
	assert.Error(t, ValidateNonEmpty("   "))
}
