package extractor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/monitor"
	"solwatch/lib/htmlutil"
	"solwatch/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultCardSelector = "div[class*='card'], div[class*='token'], div[class*='item']"
	DefaultMinKOLCount  = 16

	unknownToken   = "UNKNOWN_TOKEN"
	noThumbnail    = "no_thumb"
	nearDuplicates = 0.95
)

var (
	kolCountRegex   = regexp.MustCompile(`(?i)(\d+)\s*KOLs?`)
	kolLabelRegex   = regexp.MustCompile(`(?i)KOLs?[:\s]*(\d+)`)
	marketCapRegex  = regexp.MustCompile(`Market Cap[:\s]*([^\n]+)`)
	devBoughtRegex  = regexp.MustCompile(`Dev Bought[:\s]*([^\n]+)`)
	numericRegex    = regexp.MustCompile(`^[\d.+\-$%\s]+$`)
	backgroundRegex = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)
	solAfterRegex   = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*SOL\b`)
	solBeforeRegex  = regexp.MustCompile(`(?i)\bSOL\s*(\d[\d.,]*)`)

	// normalized, see textutil.NormalizeName
	tickerSkipWords = []string{"kol", "marketcap", "devbought", "view", "visualize", "trade", "spy"}
)

type KOLOptions struct {
	CardSelector string
	MinKOLCount  int
	// MinSOL is the smallest SOL amount a card needs besides its KOL count,
	// zero or less alerts regardless of the amount.
	MinSOL float64
}

// KOLExtractor reads token cards off the CabalSpy dashboard. Cards are listed
// newest first.
type KOLExtractor struct {
	opts KOLOptions
	tel  telemetry.API
}

func NewKOLExtractor(opts KOLOptions, tel telemetry.API) KOLExtractor {
	if opts.CardSelector == "" {
		opts.CardSelector = DefaultCardSelector
	}
	if opts.MinKOLCount <= 0 {
		opts.MinKOLCount = DefaultMinKOLCount
	}
	return KOLExtractor{
		opts: opts,
		tel:  telemetry.NewScopedAPI("kol", tel),
	}
}

func (e KOLExtractor) Order() monitor.Order {
	return monitor.NewestFirst
}

type kolCard struct {
	name      string
	kolCount  int
	marketCap string
	devBought string
	thumbnail string
	// sol is the largest SOL amount on the card, valid when hasSOL
	sol    float64
	hasSOL bool
}

func (e KOLExtractor) qualifies(card kolCard) bool {
	if card.kolCount < e.opts.MinKOLCount {
		return false
	}
	if e.opts.MinSOL <= 0 {
		return true
	}
	return card.hasSOL && card.sol >= e.opts.MinSOL
}

func (e KOLExtractor) Extract(ctx context.Context, snapshot monitor.Snapshot) ([]monitor.Event, error) {
	_, span := tracer.Start(ctx, "kol:Extract")
	defer span.End()

	doc, err := parseDocument(snapshot)
	if err != nil {
		return nil, err
	}

	hasKOL := func(_ int, s *goquery.Selection) bool {
		return strings.Contains(htmlutil.CellText(s), "KOL")
	}
	containers := doc.Find(e.opts.CardSelector).FilterFunction(hasKOL)
	if containers.Length() == 0 {
		return nil, mismatch("no card mentions KOLs")
	}

	var cards []kolCard
	containers.Each(func(i int, container *goquery.Selection) {
		// wrappers of other cards are skipped, the innermost card holds the data
		if container.Find(e.opts.CardSelector).FilterFunction(hasKOL).Length() > 0 {
			return
		}
		card, ok := parseCard(container)
		if !ok {
			e.tel.ReportDebug("card without kol count", i)
			return
		}
		cards = append(cards, card)
		e.tel.ReportDebug(report_scan, card.name, card.kolCount, FormatSOL(card.sol),
			card.marketCap, card.devBought, e.qualifies(card))
	})
	e.reportDuplicates(cards)

	var events []monitor.Event
	emitted := map[string]bool{}
	for _, card := range cards {
		if !e.qualifies(card) {
			continue
		}
		if card.name == unknownToken {
			e.tel.ReportWarning(report_skip_row, "no ticker", card.kolCount, card.thumbnail)
			continue
		}
		id := "kol:" + strings.ToLower(card.name)
		if emitted[id] {
			continue
		}
		emitted[id] = true

		payload := map[string]string{
			"name":      card.name,
			"kol_count": strconv.Itoa(card.kolCount),
		}
		if card.marketCap != "" {
			payload["market_cap"] = card.marketCap
		}
		if card.devBought != "" {
			payload["dev_bought"] = card.devBought
		}
		if card.hasSOL {
			payload["sol_amount"] = FormatSOL(card.sol)
		}
		if card.thumbnail != noThumbnail {
			payload["thumbnail"] = card.thumbnail
		}
		events = append(events, monitor.Event{
			ID:         id,
			Kind:       monitor.KindKOL,
			ObservedAt: snapshot.FetchedAt,
			Payload:    payload,
		})
	}
	return events, nil
}

func parseCard(container *goquery.Selection) (kolCard, bool) {
	lines := htmlutil.Lines(container)
	text := strings.Join(lines, "\n")

	groups := kolCountRegex.FindStringSubmatch(text)
	if len(groups) < 2 {
		groups = kolLabelRegex.FindStringSubmatch(text)
	}
	if len(groups) < 2 {
		return kolCard{}, false
	}
	count, err := strconv.Atoi(groups[1])
	if err != nil {
		return kolCard{}, false
	}

	card := kolCard{
		name:      tokenTicker(lines),
		kolCount:  count,
		thumbnail: thumbnail(container),
	}
	if m := marketCapRegex.FindStringSubmatch(text); len(m) > 1 {
		card.marketCap = strings.TrimSpace(m[1])
	}
	if m := devBoughtRegex.FindStringSubmatch(text); len(m) > 1 {
		card.devBought = strings.TrimSpace(m[1])
	}
	// the Dev Bought line is part of text
	card.sol, card.hasSOL = solAmount(text)
	return card, true
}

// solAmount is the largest amount written as "12.5 SOL" in text, or as
// "SOL 12.5" when there is none.
func solAmount(text string) (float64, bool) {
	for _, re := range []*regexp.Regexp{solAfterRegex, solBeforeRegex} {
		var (
			best  float64
			found bool
		)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			amount, err := ParseSOL(m[1])
			if err != nil {
				continue
			}
			if !found || amount > best {
				best, found = amount, true
			}
		}
		if found {
			return best, true
		}
	}
	return 0, false
}

// tokenTicker picks the first short, non-numeric line among the first lines
// of a card.
func tokenTicker(lines []string) string {
	if len(lines) > 8 {
		lines = lines[:8]
	}
	for _, line := range lines {
		if len(line) <= 2 || len(line) >= 20 || numericRegex.MatchString(line) {
			continue
		}
		if !textutil.MatchName(line, tickerSkipWords) {
			return line
		}
	}
	return unknownToken
}

func thumbnail(container *goquery.Selection) string {
	if src, ok := container.Find("img").First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		return strings.ToLower(strings.TrimSpace(src))
	}
	var found string
	container.Find("[style*='background-image']").AddSelection(container).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		if m := backgroundRegex.FindStringSubmatch(style); len(m) > 1 {
			found = strings.ToLower(m[1])
			return false
		}
		return true
	})
	if found != "" {
		return found
	}
	return noThumbnail
}

func (e KOLExtractor) reportDuplicates(cards []kolCard) {
	var names, known []string
	thumbs := make([]string, len(cards))
	for i, c := range cards {
		names = append(names, c.name)
		if c.name != unknownToken {
			known = append(known, c.name)
		}
		thumbs[i] = c.thumbnail
	}

	if dupes := textutil.Duplicates(names, unknownToken); len(dupes) > 0 {
		e.tel.ReportWarning(report_duplicates, "names", dupes)
	}
	if dupes := textutil.Duplicates(thumbs, noThumbnail); len(dupes) > 0 {
		e.tel.ReportWarning(report_duplicates, "thumbnails", dupes)
	}
	for _, pair := range textutil.NearDuplicates(known, nearDuplicates) {
		e.tel.ReportWarning(report_duplicates, "similar names", pair.Left, pair.Right, pair.Similarity)
	}
}
