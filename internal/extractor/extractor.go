// Package extractor turns fetched page snapshots into ordered events.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"solwatch/internal/monitor"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("solwatch.extractor")

const (
	report_skip_row   = "skip-row"
	report_duplicates = "duplicates"
	report_scan       = "scanned card"
)

// Extractor parses one page layout. Order is the display order of the
// events Extract returns, which is fixed per extractor.
type Extractor interface {
	Extract(ctx context.Context, snapshot monitor.Snapshot) ([]monitor.Event, error)
	Order() monitor.Order
}

func parseDocument(snapshot monitor.Snapshot) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot.RawContent))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", snapshot.URL, err)
	}
	return doc, nil
}

func mismatch(format string, args ...any) error {
	return &monitor.ExtractError{
		Kind:   monitor.StructuralMismatch,
		Reason: fmt.Sprintf(format, args...),
	}
}

// contentID hashes the given parts into a stable id for rows that do not
// expose one.
func contentID(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))[:32]
}
