package notifier

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
	"solwatch/internal/monitor"
)

const (
	solscanTxURL = "https://solscan.io/tx/"
	// discord rejects message content longer than this
	maxContentLength = 2000
	unknown          = "Unknown"
)

// Format renders an event as a single chat message.
func Format(event monitor.Event) string {
	var msg string
	switch event.Kind {
	case monitor.KindTransaction:
		msg = formatTransaction(event)
	case monitor.KindVolume:
		msg = formatVolume(event)
	case monitor.KindKOL:
		msg = formatKOL(event)
	default:
		msg = formatGeneric(event)
	}
	return truncate(msg, maxContentLength)
}

func field(event monitor.Event, key, fallback string) string {
	if v, ok := event.Get(key); ok && v != "" {
		return v
	}
	return fallback
}

func formatSOL(event monitor.Event, key string) string {
	v, ok := event.Get(key)
	if !ok {
		return "?"
	}
	amount, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func formatTransaction(event monitor.Event) string {
	var out strings.Builder
	fmt.Fprintf(
		&out,
		"💰 %s: %s SOL %s",
		field(event, "token", unknown),
		formatSOL(event, "amount_sol"),
		field(event, "side", "buy"),
	)
	if age, ok := event.Get("age_minutes"); ok {
		fmt.Fprintf(&out, " (%sm ago)", age)
	}
	if sig, ok := event.Get("signature"); ok {
		out.WriteString(" ")
		out.WriteString(solscanTxURL + sig)
	}
	return out.String()
}

func formatVolume(event monitor.Event) string {
	return fmt.Sprintf(
		"High Volume Buy — 💰 %s: %s SOL (>=%s)",
		field(event, "token", unknown),
		formatSOL(event, "total_sol"),
		field(event, "min_sol", "40"),
	)
}

func formatKOL(event monitor.Event) string {
	var sol string
	if v, ok := event.Get("sol_amount"); ok && v != "" {
		sol = fmt.Sprintf(" | SOL: %s", v)
	}
	return fmt.Sprintf(
		"🚨 NEW HIGH KOL TOKEN: %s | KOLs: %s%s | Market Cap: %s | Dev Bought: %s",
		field(event, "name", unknown),
		field(event, "kol_count", "?"),
		sol,
		field(event, "market_cap", unknown),
		field(event, "dev_bought", unknown),
	)
}

func formatGeneric(event monitor.Event) string {
	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	fmt.Fprintf(&out, "[%s] %s", event.Kind, event.ID)
	for _, k := range keys {
		fmt.Fprintf(&out, " %s=%s", k, event.Payload[k])
	}
	return out.String()
}

func truncate(msg string, limit int) string {
	if utf8.RuneCountInString(msg) <= limit {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:limit-1]) + "…"
}
