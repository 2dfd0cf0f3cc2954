package extract

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{name: "comma decimal with unit", input: "18,1 °C", want: 18.1},
		{name: "dot decimal", input: "1013.2 hPa", want: 1013.2},
		{name: "surrounding whitespace", input: "  \t7,5\n", want: 7.5},
		{name: "negative", input: "-2,3 °C", want: -2.3},
		{name: "integer", input: "65 %", want: 65},
		{name: "empty", input: "", want: 0},
		{name: "letters only", input: "abc", want: 0},
		{name: "only a dot", input: ".", want: 0},
		{name: "two decimal points", input: "1.2.3", want: 0},
		{name: "dangling minus", input: "- km/h", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Float(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFloatIsAlwaysFinite(t *testing.T) {
	inputs := []string{"", "NaN", "Inf", "-Inf", "1e400", "∞", "--", "1-2", "°C", "12,,5"}
	for _, in := range inputs {
		got := Float(in)
		assert.False(t, math.IsNaN(got) || math.IsInf(got, 0), "Float(%q) = %v", in, got)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "percent", input: "65 %", want: 65},
		{name: "whitespace", input: " 98% ", want: 98},
		{name: "negative", input: "-4", want: -4},
		{name: "decimal digits are concatenated", input: "6.5", want: 65},
		{name: "empty", input: "", want: 0},
		{name: "letters", input: "n/a", want: 0},
		{name: "minus in the middle", input: "1-2", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Int(tt.input))
		})
	}
}

func TestDurationMinutes(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{input: "2:27 h", want: 147},
		{input: "7:54 heures", want: 474},
		{input: "156:36 h", want: 9396},
		{input: "2176:45 h", want: 130605},
		{input: "Aujourd'hui 0:00 h", want: 0},
		{input: "no duration here", want: 0},
		{input: "", want: 0},
		{input: "12 h", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, DurationMinutes(tt.input))
		})
	}
}
