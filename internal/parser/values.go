package parser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
)

// ParseValues enriches reading with the tabular values page. A nil reading
// starts from a fresh one. The timestamp is only set when reading has none.
func (p *Parser) ParseValues(ctx context.Context, page string, reading *models.Reading) (enriched *models.Reading) {
	if reading == nil {
		reading = models.NewReading()
	}
	enriched = reading
	defer p.recoverParse(ctx, PageValues)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		p.metrics.RecordParseError(PageValues)
		p.logger.Error(ctx, "[PARSE_ERROR] Unable to read values page", logging.Fields{
			"page": PageValues,
		}, err)
		return reading
	}

	rows := 0
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		label := strings.ToLower(flattenText(cells.Eq(0).Nodes, true))
		value := flattenText(cells.Eq(1).Nodes, true)

		field := dispatchLabel(label, value, reading)
		if field == "" {
			return
		}
		rows++

		p.logger.Debug(ctx, "[PARSE_FIELD] Field extracted", logging.Fields{
			"page":  PageValues,
			"field": field,
			"label": label,
			"raw":   value,
		})
	})

	text := flattenText(doc.Nodes, false)
	matched := p.applyRules(ctx, PageValues, text, reading, valuesPageRules)

	if !reading.HasTimestamp() {
		reading.Timestamp = p.now()
	}

	p.logger.Info(ctx, "[PARSE_COMPLETE] Parsed values page", logging.Fields{
		"page":           PageValues,
		"rows_matched":   rows,
		"fields_matched": matched,
		"temperature":    reading.Temperature.Current,
		"humidity":       reading.Humidity.Current,
		"pressure":       reading.Pressure.Current,
	})

	return reading
}
