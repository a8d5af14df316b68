package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"

	"github.com/stretchr/testify/require"
)

type txRow struct {
	sig    string
	token  string
	amount string
	age    string
	side   string
	wallet string
}

func txPage(rows ...txRow) string {
	var out strings.Builder
	out.WriteString(`<html><body><table id="transactions-table">`)
	out.WriteString(`<tr><th>Signature</th><th>Token</th><th>Side</th><th>Amount</th><th>Age</th></tr>`)
	for _, r := range rows {
		sig := ""
		if r.sig != "" {
			sig = fmt.Sprintf(`<a href="/tx/%s?cluster=mainnet">%s</a>`, r.sig, r.sig[:4])
		}
		wallet := ""
		if r.wallet != "" {
			wallet = fmt.Sprintf(` <a href="https://solscan.io/account/%s">w</a>`, r.wallet)
		}
		fmt.Fprintf(
			&out,
			`<tr><td>%s%s</td><td>%s</td><td><span class="%s-text">%s</span></td><td>%s</td><td>%s</td></tr>`,
			sig, wallet, r.token, r.side, r.side, r.amount, r.age,
		)
	}
	out.WriteString(`</table></body></html>`)
	return out.String()
}

func snapshotOf(content string) monitor.Snapshot {
	return monitor.Snapshot{
		URL:        "https://solscan.io/token/x",
		FetchedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		RawContent: content,
	}
}

func TestTransactionsExtract(t *testing.T) {
	rec := telemetry.NewRecorder()
	ex := NewTransactionsExtractor(TransactionsOptions{}, rec)
	require.Equal(t, monitor.NewestFirst, ex.Order())

	snap := snapshotOf(txPage(
		txRow{sig: "sigCCCC", token: "pepe", amount: "12,5 SOL", age: "5s ago", side: "buy", wallet: "walletC"},
		txRow{sig: "sigBBBB", token: "wif", amount: "1,234.5 SOL", age: "3m ago", side: "sell"},
		txRow{token: "bonk", amount: "2 SOL", age: "4m ago", side: "buy"},
		txRow{sig: "sigAAAA", token: "pepe", amount: "?", age: "", side: "buy"},
	))

	events, err := ex.Extract(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, "sigCCCC", events[0].ID)
	require.Equal(t, monitor.KindTransaction, events[0].Kind)
	require.Equal(t, snap.FetchedAt, events[0].ObservedAt)
	require.Equal(t, snap.FetchedAt, events[0].OccurredAt)
	require.Equal(t, map[string]string{
		"token":       "PEPE",
		"amount_sol":  "12.5",
		"side":        SideBuy,
		"age_minutes": "0",
		"signature":   "sigCCCC",
		"wallet":      "walletC",
	}, events[0].Payload)

	require.Equal(t, "sigBBBB", events[1].ID)
	require.Equal(t, "1234.5", events[1].Payload["amount_sol"])
	require.Equal(t, SideSell, events[1].Payload["side"])
	require.Equal(t, snap.FetchedAt.Add(-3*time.Minute), events[1].OccurredAt)

	// optional fields that cannot be read are absent
	require.Equal(t, "sigAAAA", events[2].ID)
	_, ok := events[2].Get("amount_sol")
	require.False(t, ok)
	_, ok = events[2].Get("age_minutes")
	require.False(t, ok)
	require.True(t, events[2].OccurredAt.IsZero())

	// the row without a signature is skipped with a warning
	require.Len(t, rec.Reports("warning", report_skip_row), 1)
}

func TestTransactionsExtractStableIDs(t *testing.T) {
	ex := NewTransactionsExtractor(TransactionsOptions{}, telemetry.NewRecorder())
	page := txPage(txRow{sig: "sigAAAA", token: "pepe", amount: "1 SOL", age: "1m ago", side: "buy"})

	first, err := ex.Extract(context.Background(), snapshotOf(page))
	require.NoError(t, err)

	later := snapshotOf(strings.ReplaceAll(page, "1m ago", "9m ago"))
	later.FetchedAt = later.FetchedAt.Add(8 * time.Minute)
	second, err := ex.Extract(context.Background(), later)
	require.NoError(t, err)

	require.Equal(t, first[0].ID, second[0].ID)
}

func TestTransactionsContentIDs(t *testing.T) {
	ex := NewTransactionsExtractor(TransactionsOptions{ContentIDs: true}, telemetry.NewRecorder())

	page := txPage(txRow{token: "bonk", amount: "2 SOL", age: "4m ago", side: "buy"})
	first, err := ex.Extract(context.Background(), snapshotOf(page))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.True(t, strings.HasPrefix(first[0].ID, "row:"))

	// the age cell changes between polls, the id must not
	second, err := ex.Extract(context.Background(), snapshotOf(strings.ReplaceAll(page, "4m ago", "6m ago")))
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	other, err := ex.Extract(context.Background(), snapshotOf(strings.ReplaceAll(page, "2 SOL", "3 SOL")))
	require.NoError(t, err)
	require.NotEqual(t, first[0].ID, other[0].ID)
}

func TestTransactionsBuysOnly(t *testing.T) {
	ex := NewTransactionsExtractor(TransactionsOptions{BuysOnly: true}, telemetry.NewRecorder())
	events, err := ex.Extract(context.Background(), snapshotOf(txPage(
		txRow{sig: "sigBBBB", token: "wif", amount: "1 SOL", age: "3m ago", side: "sell"},
		txRow{sig: "sigAAAA", token: "wif", amount: "1 SOL", age: "4m ago", side: "buy"},
	)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "sigAAAA", events[0].ID)
}

func TestTransactionsStructuralMismatch(t *testing.T) {
	ex := NewTransactionsExtractor(TransactionsOptions{}, telemetry.NewRecorder())

	testCases := []struct {
		name    string
		content string
	}{
		{name: "no table", content: `<html><body><div>maintenance</div></body></html>`},
		{name: "wrong shape", content: `<table id="transactions-table"><tr><td>a</td><td>b</td></tr></table>`},
	}
	for _, test := range testCases {
		_, err := ex.Extract(context.Background(), snapshotOf(test.content))
		var extractErr *monitor.ExtractError
		require.True(t, errors.As(err, &extractErr), test.name)
		require.Equal(t, monitor.StructuralMismatch, extractErr.Kind)
	}

	events, err := ex.Extract(context.Background(), snapshotOf(txPage()))
	require.NoError(t, err)
	require.Empty(t, events)
}
