package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeAgo(t *testing.T) {
	testCases := []struct {
		text     string
		expected int
		ok       bool
	}{
		{text: "5s ago", expected: 0, ok: true},
		{text: "30 secs ago", expected: 0, ok: true},
		{text: "2m ago", expected: 2, ok: true},
		{text: "12 mins ago", expected: 12, ok: true},
		{text: "1h ago", expected: 60, ok: true},
		{text: "3 hrs ago", expected: 180, ok: true},
		{text: "2d ago", expected: 2880, ok: true},
		{text: "1 week ago", expected: 10080, ok: true},
		{text: "1 month ago", expected: 43200, ok: true},
		{text: "just now", expected: 0, ok: true},
		{text: "7", expected: 7, ok: true},
		{text: "", expected: UnknownAge, ok: false},
		{text: "yesterday", expected: UnknownAge, ok: false},
	}

	for _, test := range testCases {
		minutes, ok := ParseTimeAgo(test.text)
		require.Equal(t, test.expected, minutes, test.text)
		require.Equal(t, test.ok, ok, test.text)
	}
}

func TestParseSOL(t *testing.T) {
	testCases := []struct {
		text     string
		expected float64
	}{
		{text: "12.5 SOL", expected: 12.5},
		{text: "12,5 SOL", expected: 12.5},
		{text: "0,75", expected: 0.75},
		{text: "1,234.5 SOL", expected: 1234.5},
		{text: "1.234,5 SOL", expected: 1234.5},
		{text: "1,234,567", expected: 1234567},
		{text: "◎ 41", expected: 41},
	}

	for _, test := range testCases {
		amount, err := ParseSOL(test.text)
		if err != nil {
			t.Fatal(err)
		}
		require.InDelta(t, test.expected, amount, 1e-9, test.text)
	}

	for _, text := range []string{"", "SOL", "--", "n/a"} {
		_, err := ParseSOL(text)
		require.Error(t, err, text)
	}
}

func TestFormatSOL(t *testing.T) {
	require.Equal(t, "12.5", FormatSOL(12.5))
	require.Equal(t, "40", FormatSOL(40))
}
