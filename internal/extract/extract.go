// Package extract converts loosely formatted station text into numbers.
//
// Every function here is total: malformed input degrades to zero instead of
// returning an error, so one bad field never aborts a page parse.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonFloatChars = regexp.MustCompile(`[^\d.\-]`)
	nonIntChars   = regexp.MustCompile(`[^\d\-]`)
	durationToken = regexp.MustCompile(`(\d+):(\d+)`)
)

// Float parses a decimal value such as "18,1 °C" or "1013.2hPa".
// The comma decimal separator is accepted. Returns 0 when nothing parses.
func Float(text string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	cleaned = nonFloatChars.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return 0
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Int parses an integer value such as "65 %". Returns 0 when nothing parses.
func Int(text string) int {
	cleaned := nonIntChars.ReplaceAllString(strings.TrimSpace(text), "")
	if cleaned == "" {
		return 0
	}

	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return v
}

// DurationMinutes converts the first "H:MM" token of text to minutes,
// e.g. "2:27 h" is 147. Returns 0 when there is no such token.
func DurationMinutes(text string) float64 {
	m := durationToken.FindStringSubmatch(text)
	if m == nil {
		return 0
	}

	hours, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0
	}
	return float64(hours*60 + minutes)
}
