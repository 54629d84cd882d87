package collection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupBy_KeepsFirstSeenOrder(t *testing.T) {
	words := []string{"beta", "Alpha", "bravo", "apple", "charlie"}
	groups := GroupBy(words, func(s string) string { return strings.ToLower(s[:1]) })

	require.Len(t, groups, 3)
	assert.Equal(t, "b", groups[0].Key)
	assert.Equal(t, []string{"beta", "bravo"}, groups[0].Items)
	assert.Equal(t, "a", groups[1].Key)
	assert.Equal(t, []string{"Alpha", "apple"}, groups[1].Items)
	assert.Equal(t, "c", groups[2].Key)
}

func TestGroupBy_Empty(t *testing.T) {
	groups := GroupBy([]int(nil), func(i int) int { return i })
	assert.Empty(t, groups)
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []uint64{3, 1, 2}, Unique([]uint64{3, 1, 3, 2, 1}))
	assert.Empty(t, Unique([]string{}))
}
