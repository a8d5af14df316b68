package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "dogwifhat", NormalizeName("  Dog Wif Hat\n"))
	require.True(t, MatchName("Pump Fun", []string{"pump"}))
	require.False(t, MatchName("Bonk", []string{"pump"}))
}

func TestDuplicates(t *testing.T) {
	dupes := Duplicates([]string{"BONK", "bonk", "WIF", "UNKNOWN_TOKEN", "unknown_token"}, "UNKNOWN_TOKEN")
	require.Equal(t, map[string]int{"bonk": 2}, dupes)
}

func TestNearDuplicates(t *testing.T) {
	pairs := NearDuplicates([]string{"POPCAT", "POPCAT2", "BONK", "bonk"}, 0.9)
	require.Len(t, pairs, 1)
	require.Equal(t, "popcat", pairs[0].Left)
	require.Equal(t, "popcat2", pairs[0].Right)
	require.GreaterOrEqual(t, pairs[0].Similarity, 0.9)

	require.Empty(t, NearDuplicates([]string{"BONK", "WIF"}, 0.95))
}
