package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UnknownAge is the age in minutes reported for an unreadable age cell, old
// enough to fall outside every lookback window.
const UnknownAge = 999

var timeAgoRegex = regexp.MustCompile(`(\d+)\s*([a-zA-Z]*)`)

// ParseTimeAgo converts relative ages like "5s ago", "2m ago", "1 hr ago" or
// "3 days ago" to whole minutes. Seconds round down to 0. The boolean is false
// (and the age UnknownAge) when the text holds no age.
func ParseTimeAgo(text string) (int, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return UnknownAge, false
	}
	if strings.Contains(text, "now") {
		return 0, true
	}

	groups := timeAgoRegex.FindStringSubmatch(text)
	if len(groups) < 3 {
		return UnknownAge, false
	}
	v, err := strconv.Atoi(groups[1])
	if err != nil {
		return UnknownAge, false
	}

	unit := groups[2]
	switch {
	case unit == "":
		return v, true
	case strings.HasPrefix(unit, "s"):
		return 0, true
	case strings.HasPrefix(unit, "mo"):
		return v * 43200, true
	case strings.HasPrefix(unit, "m"):
		return v, true
	case strings.HasPrefix(unit, "h"):
		return v * 60, true
	case strings.HasPrefix(unit, "d"):
		return v * 1440, true
	case strings.HasPrefix(unit, "w"):
		return v * 10080, true
	}
	return v, true
}

var amountRegex = regexp.MustCompile(`-?[\d.,]+`)

// ParseSOL parses amounts like "12.5 SOL", "12,5 SOL" or "1,234.5". A single
// comma is a decimal separator, repeated commas (or a comma before a dot) are
// thousands separators.
func ParseSOL(text string) (float64, error) {
	match := amountRegex.FindString(text)
	if match == "" || strings.Trim(match, ".,-") == "" {
		return 0, fmt.Errorf("no amount in %q", text)
	}

	commas := strings.Count(match, ",")
	lastComma := strings.LastIndex(match, ",")
	lastDot := strings.LastIndex(match, ".")
	switch {
	case commas == 0:
	case lastDot > lastComma:
		match = strings.ReplaceAll(match, ",", "")
	case lastDot >= 0:
		// dots are thousands separators, the comma is the decimal
		match = strings.ReplaceAll(match, ".", "")
		match = strings.Replace(match, ",", ".", 1)
	case commas == 1:
		match = strings.Replace(match, ",", ".", 1)
	default:
		match = strings.ReplaceAll(match, ",", "")
	}

	amount, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", text, err)
	}
	return amount, nil
}

// FormatSOL renders an amount the way it is stored in event payloads.
func FormatSOL(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
