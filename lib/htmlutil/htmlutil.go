package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText concatenates every text node below node, block elements are
// separated with newlines so that card-like layouts can be split into lines.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

var blockElements = map[string]bool{
	"div": true, "p": true, "li": true, "tr": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true,
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		buffer.WriteString(node.Data)
		return
	case html.ElementNode:
		if node.Data == "script" || node.Data == "style" {
			return
		}
	}

	block := node.Type == html.ElementNode && blockElements[node.Data]
	if block {
		buffer.WriteByte('\n')
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
	if block {
		buffer.WriteByte('\n')
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// Normalize collapses whitespace and strips non-printable characters.
func Normalize(text string) string {
	text = removeNonPrintable(text)
	text = strings.Trim(text, " \t\n")
	return innerWhitespace.ReplaceAllString(text, " ")
}

// CellText is the normalized text of a selection.
func CellText(sel *goquery.Selection) string {
	var out strings.Builder
	for _, n := range sel.Nodes {
		out.WriteString(GetText(n))
	}
	return Normalize(out.String())
}

// Lines splits the text of a selection into trimmed, non-empty lines.
func Lines(sel *goquery.Selection) []string {
	var raw strings.Builder
	for _, n := range sel.Nodes {
		raw.WriteString(GetText(n))
	}

	var lines []string
	for _, line := range strings.Split(removeNonPrintable(raw.String()), "\n") {
		line = strings.TrimSpace(innerWhitespace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
