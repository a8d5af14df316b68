package extractor

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	"solwatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const DefaultTableSelector = "#transactions-table"

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// transaction table columns
const (
	colToken  = 1
	colAmount = 3
	colAge    = 4
	minCells  = 5
)

type TransactionsOptions struct {
	TableSelector string
	// ContentIDs derives an id from the row cells when the row has no
	// transaction signature link.
	ContentIDs bool
	// BuysOnly drops sell rows.
	BuysOnly bool
}

// TransactionsExtractor reads the Solscan token transactions table. Rows are
// displayed newest first.
type TransactionsExtractor struct {
	opts TransactionsOptions
	tel  telemetry.API
}

func NewTransactionsExtractor(opts TransactionsOptions, tel telemetry.API) TransactionsExtractor {
	if opts.TableSelector == "" {
		opts.TableSelector = DefaultTableSelector
	}
	return TransactionsExtractor{
		opts: opts,
		tel:  telemetry.NewScopedAPI("transactions", tel),
	}
}

func (e TransactionsExtractor) Order() monitor.Order {
	return monitor.NewestFirst
}

func (e TransactionsExtractor) Extract(ctx context.Context, snapshot monitor.Snapshot) ([]monitor.Event, error) {
	_, span := tracer.Start(ctx, "transactions:Extract")
	defer span.End()

	doc, err := parseDocument(snapshot)
	if err != nil {
		return nil, err
	}

	table := doc.Find(e.opts.TableSelector)
	if table.Length() == 0 {
		return nil, mismatch("table %q not found", e.opts.TableSelector)
	}

	var (
		events    []monitor.Event
		dataRows  int
		wellShape int
	)
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		dataRows++
		if cells.Length() < minCells {
			return
		}
		wellShape++

		side := rowSide(row)
		if side == "" || (e.opts.BuysOnly && side != SideBuy) {
			return
		}

		event, ok := e.parseRow(i, row, cells, side, snapshot.FetchedAt)
		if ok {
			events = append(events, event)
		}
	})

	if dataRows > 0 && wellShape == 0 {
		return nil, mismatch("no row of %q has %d cells", e.opts.TableSelector, minCells)
	}
	return events, nil
}

func rowSide(row *goquery.Selection) string {
	if row.Find(".buy-text").Length() > 0 {
		return SideBuy
	}
	if row.Find(".sell-text").Length() > 0 {
		return SideSell
	}
	return ""
}

func (e TransactionsExtractor) parseRow(
	index int,
	row, cells *goquery.Selection,
	side string,
	observedAt time.Time,
) (monitor.Event, bool) {
	payload := map[string]string{"side": side}

	if token := strings.ToUpper(htmlutil.CellText(cells.Eq(colToken))); token != "" {
		payload["token"] = token
	}

	amountText := htmlutil.CellText(cells.Eq(colAmount))
	if amount, err := ParseSOL(amountText); err == nil {
		payload["amount_sol"] = FormatSOL(amount)
	} else if amountText != "" {
		e.tel.ReportDebug("unparseable amount", index, amountText)
	}

	event := monitor.Event{
		Kind:       monitor.KindTransaction,
		ObservedAt: observedAt,
		Payload:    payload,
	}

	age, known := ParseTimeAgo(htmlutil.CellText(cells.Eq(colAge)))
	if known {
		payload["age_minutes"] = strconv.Itoa(age)
		event.OccurredAt = observedAt.Add(-time.Duration(age) * time.Minute)
	}

	if wallet := linkSegment(row, "/account/"); wallet != "" {
		payload["wallet"] = wallet
	}

	signature := linkSegment(row, "/tx/")
	switch {
	case signature != "":
		payload["signature"] = signature
		event.ID = signature
	case e.opts.ContentIDs:
		var parts []string
		cells.Each(func(i int, cell *goquery.Selection) {
			if i != colAge {
				parts = append(parts, htmlutil.CellText(cell))
			}
		})
		event.ID = contentID("row:", parts...)
	default:
		e.tel.ReportWarning(report_skip_row, index, "no transaction signature")
		return monitor.Event{}, false
	}
	return event, true
}

// linkSegment returns the path segment that follows marker in the first
// link of sel whose href contains it.
func linkSegment(sel *goquery.Selection, marker string) string {
	href, ok := sel.Find("a[href*='" + marker + "']").First().Attr("href")
	if !ok {
		return ""
	}
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	idx := strings.Index(href, marker)
	if idx < 0 {
		return ""
	}
	segment := href[idx+len(marker):]
	if end := strings.IndexAny(segment, "/?#"); end >= 0 {
		segment = segment[:end]
	}
	return segment
}
