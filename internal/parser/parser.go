// Package parser extracts readings from the two station pages.
//
// Both parsers are total: they never panic outward and always return a
// reading, possibly partial. Extraction is driven by ordered rule tables
// (see rules.go) so each pattern can be tested on its own.
package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

// Page names used in logs and metrics
const (
	PageCurrent = "current"
	PageValues  = "values"
)

// Parser turns station page markup into readings
type Parser struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Parser
type Option func(*Parser)

// WithClock overrides the clock used to stamp readings
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a parser
func New(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts ...Option) *Parser {
	p := &Parser{
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// recoverParse must be deferred directly by a parse method
func (p *Parser) recoverParse(ctx context.Context, page string) {
	rec := recover()
	if rec == nil {
		return
	}

	p.metrics.RecordParseError(page)
	p.logger.Error(ctx, "[PARSE_ERROR] Page parse aborted, keeping partial reading", logging.Fields{
		"page": page,
	}, fmt.Errorf("panic: %v", rec))
}

// applyRules runs every rule against text and returns how many matched
func (p *Parser) applyRules(ctx context.Context, page, text string, reading *models.Reading, rules []textRule) int {
	matched := 0
	for _, rule := range rules {
		groups, ok := rule.match(text)
		if !ok {
			continue
		}
		rule.set(reading, groups)
		matched++

		p.logger.Debug(ctx, "[PARSE_FIELD] Field extracted", logging.Fields{
			"page":  page,
			"field": rule.field,
			"raw":   strings.Join(groups, " "),
		})
	}
	return matched
}

var spaceReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ")

// skipText reports elements whose character data is not page text
func skipText(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template:
		return true
	}
	return false
}

// flattenText concatenates the text of nodes. With strip, every text
// fragment is trimmed before being joined.
func flattenText(nodes []*html.Node, strip bool) string {
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if skipText(n) {
			return
		}
		if n.Type == html.TextNode {
			data := n.Data
			if strip {
				data = strings.TrimSpace(data)
			}
			b.WriteString(data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range nodes {
		walk(n)
	}

	return spaceReplacer.Replace(b.String())
}

// PageText returns the normalised text the page rules are matched
// against
func PageText(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	return flattenText(doc.Nodes, false), nil
}

// enclosingTable returns the innermost table element containing n
func enclosingTable(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Table {
			return p
		}
	}
	return nil
}
