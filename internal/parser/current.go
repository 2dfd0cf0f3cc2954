package parser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
)

// ParseCurrent builds a reading from the current-conditions page. Fields
// the page does not carry keep their zero value. The reading is stamped
// only when the whole page was processed.
func (p *Parser) ParseCurrent(ctx context.Context, page string) (reading *models.Reading) {
	reading = models.NewReading()
	defer p.recoverParse(ctx, PageCurrent)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		p.metrics.RecordParseError(PageCurrent)
		p.logger.Error(ctx, "[PARSE_ERROR] Unable to read current conditions page", logging.Fields{
			"page": PageCurrent,
		}, err)
		return reading
	}

	text := flattenText(doc.Nodes, false)
	matched := p.applyRules(ctx, PageCurrent, text, reading, currentPageRules)

	if table := solarTable(doc.Nodes); table != nil {
		tableText := flattenText([]*html.Node{table}, false)
		matched += p.applyRules(ctx, PageCurrent, tableText, reading, solarRules)
	} else {
		p.logger.Debug(ctx, "[PARSE_SOLAR] No sunshine table on page", logging.Fields{
			"page": PageCurrent,
		})
	}

	reading.Timestamp = p.now()

	p.logger.Info(ctx, "[PARSE_COMPLETE] Parsed current conditions page", logging.Fields{
		"page":                   PageCurrent,
		"fields_matched":         matched,
		"temperature":            reading.Temperature.Current,
		"humidity":               reading.Humidity.Current,
		"pressure":               reading.Pressure.Current,
		"sunshine_today_minutes": reading.Solar.SunshineTodayMinutes,
	})

	return reading
}

// solarTable finds the first text node matching solarAnchor that sits in a
// table and returns that innermost table.
func solarTable(roots []*html.Node) *html.Node {
	var found *html.Node

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil || skipText(n) {
			return
		}
		if n.Type == html.TextNode && solarAnchor.MatchString(n.Data) {
			if table := enclosingTable(n); table != nil {
				found = table
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range roots {
		walk(n)
	}
	return found
}
