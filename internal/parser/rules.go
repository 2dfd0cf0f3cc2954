package parser

import (
	"regexp"
	"strings"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/extract"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
)

// textRule extracts one field from flattened page text. The first match of
// pattern wins; a miss leaves the field untouched.
type textRule struct {
	field   string
	pattern *regexp.Regexp
	set     func(r *models.Reading, groups []string)
}

// match returns the capture groups of the first match of the rule
func (r textRule) match(text string) ([]string, bool) {
	m := r.pattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

func floatRule(field, pattern string, set func(r *models.Reading, v float64)) textRule {
	return textRule{
		field:   field,
		pattern: regexp.MustCompile(pattern),
		set: func(r *models.Reading, groups []string) {
			set(r, extract.Float(groups[0]))
		},
	}
}

// intRule truncates the cleaned float value, so "65,0" becomes 65
func intRule(field, pattern string, set func(r *models.Reading, v int)) textRule {
	return textRule{
		field:   field,
		pattern: regexp.MustCompile(pattern),
		set: func(r *models.Reading, groups []string) {
			set(r, int(extract.Float(groups[0])))
		},
	}
}

func durationRule(field, pattern string, set func(r *models.Reading, minutes float64)) textRule {
	return textRule{
		field:   field,
		pattern: regexp.MustCompile(pattern),
		set: func(r *models.Reading, groups []string) {
			set(r, extract.DurationMinutes(groups[0]))
		},
	}
}

// Current-conditions page, matched over the whole page text.
// Labels are French, some with English alternatives.
var currentPageRules = []textRule{
	floatRule("temperature.current", `(?is)Actuel\s*(-?\d+[,.]?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Current = v }),
	floatRule("temperature.min", `(?is)Min\.\([^)]+\)(-?\d+[,.]?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Min = v }),
	floatRule("temperature.max", `(?is)Max\.\([^)]+\)(-?\d+[,.]?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Max = v }),
	floatRule("temperature.average", `(?is)Moyenne\s*(-?\d+[,.]?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Average = v }),

	intRule("humidity.current", `(?is)Actuel\s*(\d+)\s*%`,
		func(r *models.Reading, v int) { r.Humidity.Current = v }),
	intRule("humidity.min", `(?is)Min\.\([^)]+\)(\d+)\s*%`,
		func(r *models.Reading, v int) { r.Humidity.Min = v }),
	intRule("humidity.max", `(?is)Max\.\([^)]+\)(\d+)\s*%`,
		func(r *models.Reading, v int) { r.Humidity.Max = v }),

	floatRule("pressure.current", `(?is)(?:Pressure|Pression|Press)[\s:]+(\d{3,4}[,.]?\d*)\s*(?:hPa|mb)`,
		func(r *models.Reading, v float64) { r.Pressure.Current = v }),
	floatRule("pressure.trend", `(?is)([+-]\d+[,.]?\d*)\s*hPa`,
		func(r *models.Reading, v float64) { r.Pressure.Trend = v }),

	floatRule("wind.speed", `(?is)(?:Wind|Vent)[\s:]+(\d+[,.]?\d*)\s*km/?h`,
		func(r *models.Reading, v float64) { r.Wind.Speed = v }),
	floatRule("wind.gust_max", `(?is)(?:Gust|Rafale)[\s:]+(\d+[,.]?\d*)\s*km`,
		func(r *models.Reading, v float64) { r.Wind.GustMax = v }),

	floatRule("rain.today", `(?is)(?:Rain|Pluie).*?(?:Today|Aujourd['’]hui)[\s:]+(\d+[,.]?\d*)\s*mm`,
		func(r *models.Reading, v float64) { r.Rain.Today = v }),

	floatRule("dewpoint", `(?is)(?:Dew\s*Point|Point\s*de\s*rosée)[\s:]+(-?\d+[,.]?\d*)`,
		func(r *models.Reading, v float64) { r.Dewpoint = v }),
}

// solarAnchor marks the sunshine table of the current-conditions page
var solarAnchor = regexp.MustCompile(`(?i)Ensoleillement`)

// Sunshine and radiation, matched only inside the table holding solarAnchor
// so unrelated numbers elsewhere on the page cannot leak in.
var solarRules = []textRule{
	durationRule("solar.sunshine_today_minutes", `(?i)Aujourd['’]hui\s*(\d+:\d+)\s*h`,
		func(r *models.Reading, v float64) { r.Solar.SunshineTodayMinutes = v }),
	durationRule("solar.sunshine_month_minutes", `(?i)Mois\s*(\d+:\d+)\s*h`,
		func(r *models.Reading, v float64) { r.Solar.SunshineMonthMinutes = v }),
	durationRule("solar.sunshine_year_minutes", `(?i)Ann[ée]e\s*(\d+:\d+)\s*h`,
		func(r *models.Reading, v float64) { r.Solar.SunshineYearMinutes = v }),
	floatRule("solar.radiation_max", `(?is)Energie max 24h.*?(\d+)\s*W/m`,
		func(r *models.Reading, v float64) { r.Solar.RadiationMax = v }),
	floatRule("solar.radiation_current", `(?is)Moyenne aujourd['’]hui.*?(\d+)\s*W/m`,
		func(r *models.Reading, v float64) { r.Solar.RadiationCurrent = v }),
}

// Highs and lows of the tabular values page, matched over the page text.
// They overwrite whatever the row dispatch produced.
var valuesPageRules = []textRule{
	floatRule("temperature.max", `(?i)High\s+(-?\d+\.?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Max = v }),
	floatRule("temperature.min", `(?i)Low\s+(-?\d+\.?\d*)\s*°C`,
		func(r *models.Reading, v float64) { r.Temperature.Min = v }),
	intRule("humidity.max", `High\s+(\d+)\s*%`,
		func(r *models.Reading, v int) { r.Humidity.Max = v }),
	intRule("humidity.min", `Low\s+(\d+)\s*%`,
		func(r *models.Reading, v int) { r.Humidity.Min = v }),
	floatRule("wind.gust_max", `(\d+\.?\d*)\s*km/hr\s+at`,
		func(r *models.Reading, v float64) { r.Wind.GustMax = v }),
	{
		// The page lists the daily high before the low. Single line only.
		field:   "pressure.max,pressure.min",
		pattern: regexp.MustCompile(`(\d{4}\.\d+)\s*hPa.*?(\d{4}\.\d+)\s*hPa`),
		set: func(r *models.Reading, groups []string) {
			r.Pressure.Max = extract.Float(groups[0])
			r.Pressure.Min = extract.Float(groups[1])
		},
	},
	floatRule("rain.rate_max", `(\d+\.?\d*)\s*mm/hr`,
		func(r *models.Reading, v float64) { r.Rain.RateMax = v }),
}

// labelRule maps a row of the values page onto a field. label is the
// lower-cased first cell and value the second cell.
type labelRule struct {
	field   string
	matches func(label string) bool
	set     func(r *models.Reading, value string)
}

func containsAll(parts ...string) func(string) bool {
	return func(label string) bool {
		for _, p := range parts {
			if !strings.Contains(label, p) {
				return false
			}
		}
		return true
	}
}

func containsAny(parts ...string) func(string) bool {
	return func(label string) bool {
		for _, p := range parts {
			if strings.Contains(label, p) {
				return true
			}
		}
		return false
	}
}

// Order matters: the first rule whose label matches handles the row.
var valuesLabelRules = []labelRule{
	{
		field: "temperature.current",
		matches: func(label string) bool {
			return strings.Contains(label, "temperature") && !strings.Contains(label, "air")
		},
		set: func(r *models.Reading, v string) { r.Temperature.Current = extract.Float(v) },
	},
	{
		field:   "humidity.current",
		matches: containsAny("humidity", "humidit"),
		set:     func(r *models.Reading, v string) { r.Humidity.Current = extract.Int(v) },
	},
	{
		field:   "pressure.current",
		matches: containsAny("pressure", "pression"),
		set:     func(r *models.Reading, v string) { r.Pressure.Current = extract.Float(v) },
	},
	{
		field:   "wind.speed",
		matches: containsAll("wind", "10-min"),
		set:     func(r *models.Reading, v string) { r.Wind.Speed = extract.Float(v) },
	},
	{
		field:   "rain.today",
		matches: containsAll("daily", "rain"),
		set:     func(r *models.Reading, v string) { r.Rain.Today = extract.Float(v) },
	},
	{
		field:   "rain.month",
		matches: containsAny("monthly"),
		set:     func(r *models.Reading, v string) { r.Rain.Month = extract.Float(v) },
	},
	{
		field:   "rain.year",
		matches: containsAny("yearly"),
		set:     func(r *models.Reading, v string) { r.Rain.Year = extract.Float(v) },
	},
	{
		field:   "rain.rate",
		matches: containsAny("rain rate", "rainfall rate"),
		set:     func(r *models.Reading, v string) { r.Rain.Rate = extract.Float(v) },
	},
	{
		field:   "dewpoint",
		matches: containsAny("dew point"),
		set:     func(r *models.Reading, v string) { r.Dewpoint = extract.Float(v) },
	},
	{
		field:   "heat_index",
		matches: containsAny("heat index"),
		set:     func(r *models.Reading, v string) { r.HeatIndex = extract.Float(v) },
	},
	{
		field:   "thsw_index",
		matches: containsAny("thsw"),
		set:     func(r *models.Reading, v string) { r.THSWIndex = extract.Float(v) },
	},
}

// dispatchLabel applies the first matching label rule. It returns the
// field name, or "" when no rule handles the label.
func dispatchLabel(label, value string, r *models.Reading) string {
	for _, rule := range valuesLabelRules {
		if rule.matches(label) {
			rule.set(r, value)
			return rule.field
		}
	}
	return ""
}
