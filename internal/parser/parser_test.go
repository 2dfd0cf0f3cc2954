package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

var fixedNow = time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)

func newTestParser(t *testing.T) (*Parser, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector(prometheus.NewRegistry(), "meteo_test")
	p := New(logging.Discard(), collector, WithClock(func() time.Time { return fixedNow }))
	return p, collector
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func expectedCurrent() *models.Reading {
	r := models.NewReading()
	r.Temperature = models.Temperature{Current: 18.1, Min: 13.8, Max: 21.4, Average: 15.7}
	r.Humidity = models.Humidity{Current: 65, Min: 48, Max: 98}
	r.Pressure = models.Pressure{Current: 1013.2, Trend: 1.2}
	r.Wind = models.Wind{Speed: 12.5, GustMax: 35.4}
	r.Rain = models.Rain{Today: 2.4}
	r.Solar = models.Solar{
		RadiationCurrent:     167,
		RadiationMax:         557,
		SunshineTodayMinutes: 147,
		SunshineMonthMinutes: 9396,
		SunshineYearMinutes:  130605,
	}
	r.Dewpoint = 11.3
	r.Timestamp = fixedNow
	return r
}

func TestParseCurrent_Fixture(t *testing.T) {
	p, _ := newTestParser(t)

	got := p.ParseCurrent(context.Background(), readFixture(t, "currant.html"))

	if diff := cmp.Diff(expectedCurrent(), got); diff != "" {
		t.Errorf("ParseCurrent() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got.IsValid())
}

func TestParseValues_FixtureFromScratch(t *testing.T) {
	p, _ := newTestParser(t)

	got := p.ParseValues(context.Background(), readFixture(t, "valeurs.htm"), nil)

	want := models.NewReading()
	want.Temperature = models.Temperature{Current: 18.3, Min: 13.5, Max: 21.6}
	want.Humidity = models.Humidity{Current: 66, Min: 47, Max: 92}
	want.Pressure = models.Pressure{Current: 1013.5, Min: 1011.9, Max: 1016.8}
	want.Wind = models.Wind{Speed: 11.3, GustMax: 38.6}
	want.Rain = models.Rain{Today: 2.6, Month: 48.2, Year: 612.4, Rate: 0, RateMax: 4.2}
	want.Dewpoint = 11.8
	want.HeatIndex = 18.0
	want.THSWIndex = 20.1
	want.Timestamp = fixedNow

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseValues() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseValues_EnrichesCurrentReading(t *testing.T) {
	p, _ := newTestParser(t)
	ctx := context.Background()

	stampA := fixedNow.Add(-time.Minute)
	reading := p.ParseCurrent(ctx, readFixture(t, "currant.html"))
	reading.Timestamp = stampA

	got := p.ParseValues(ctx, readFixture(t, "valeurs.htm"), reading)
	require.Same(t, reading, got, "values page enriches the reading in place")

	want := expectedCurrent()
	want.Temperature = models.Temperature{Current: 18.3, Min: 13.5, Max: 21.6, Average: 15.7}
	want.Humidity = models.Humidity{Current: 66, Min: 47, Max: 92}
	want.Pressure = models.Pressure{Current: 1013.5, Trend: 1.2, Min: 1011.9, Max: 1016.8}
	want.Wind = models.Wind{Speed: 11.3, GustMax: 38.6}
	want.Rain = models.Rain{Today: 2.6, Month: 48.2, Year: 612.4, RateMax: 4.2}
	want.Dewpoint = 11.8
	want.HeatIndex = 18.0
	want.THSWIndex = 20.1
	want.Timestamp = stampA

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged reading mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_IdempotentModuloTimestamp(t *testing.T) {
	collector := metrics.NewCollector(prometheus.NewRegistry(), "meteo_test")
	p := New(logging.Discard(), collector)
	ctx := context.Background()
	current := readFixture(t, "currant.html")
	values := readFixture(t, "valeurs.htm")

	first := p.ParseValues(ctx, values, p.ParseCurrent(ctx, current))
	second := p.ParseValues(ctx, values, p.ParseCurrent(ctx, current))

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(models.Reading{}, "Timestamp")); diff != "" {
		t.Errorf("parsing twice differs (-first +second):\n%s", diff)
	}
}

func TestParseCurrent_EmptyPage(t *testing.T) {
	p, collector := newTestParser(t)

	got := p.ParseCurrent(context.Background(), "")

	require.NotNil(t, got)
	assert.True(t, got.HasTimestamp())
	assert.False(t, got.IsValid(), "no primary quantity was found")
	assert.Equal(t, models.DefaultStationInfo(), got.StationInfo)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.ParseErrorsTotal.WithLabelValues(PageCurrent)))
}

func TestParseValues_KeepsExistingTimestamp(t *testing.T) {
	p, _ := newTestParser(t)
	earlier := fixedNow.Add(-time.Hour)

	r := models.NewReading()
	r.Timestamp = earlier
	got := p.ParseValues(context.Background(), "<table><tr><td>Daily Rain</td><td>1,5 mm</td></tr></table>", r)

	assert.True(t, got.Timestamp.Equal(earlier))
	assert.Equal(t, 1.5, got.Rain.Today)
}

func TestParseCurrent_NegativeTemperatures(t *testing.T) {
	p, _ := newTestParser(t)

	page := `<p>Actuel -3,4 °C</p><p>Min.(06:10)-7,2 °C</p><p>Max.(13:40)1,0 °C</p><p>Point de rosée : -9,1 °C</p>`
	got := p.ParseCurrent(context.Background(), page)

	assert.Equal(t, -3.4, got.Temperature.Current)
	assert.Equal(t, -7.2, got.Temperature.Min)
	assert.Equal(t, 1.0, got.Temperature.Max)
	assert.Equal(t, -9.1, got.Dewpoint)
	assert.True(t, got.IsValid())
}

func TestParseCurrent_SolarScopedToTable(t *testing.T) {
	p, _ := newTestParser(t)

	page := `<p>Mois 99:00 h</p>
<table><tr><td>Ensoleillement</td></tr><tr><td>Mois</td><td>10:05 h</td></tr></table>`
	got := p.ParseCurrent(context.Background(), page)

	assert.Equal(t, 605.0, got.Solar.SunshineMonthMinutes)
	assert.Equal(t, 0.0, got.Solar.SunshineTodayMinutes)
}

func TestParseCurrent_SolarAnchorOutsideTable(t *testing.T) {
	p, _ := newTestParser(t)

	page := `<h2>Ensoleillement</h2><p>Aujourd'hui 2:27 h</p>`
	got := p.ParseCurrent(context.Background(), page)

	assert.Equal(t, 0.0, got.Solar.SunshineTodayMinutes)
}

func TestRecoverParse_KeepsPartialReading(t *testing.T) {
	p, collector := newTestParser(t)
	ctx := context.Background()

	parse := func() (r *models.Reading) {
		r = models.NewReading()
		defer p.recoverParse(ctx, PageCurrent)
		r.Temperature.Current = 12.5
		panic("unexpected markup")
	}

	var got *models.Reading
	require.NotPanics(t, func() { got = parse() })
	require.NotNil(t, got)
	assert.Equal(t, 12.5, got.Temperature.Current)
	assert.False(t, got.IsValid())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ParseErrorsTotal.WithLabelValues(PageCurrent)))
}

func TestFlattenText_SkipsScriptAndNormalisesSpaces(t *testing.T) {
	p, _ := newTestParser(t)

	got := p.ParseCurrent(context.Background(),
		"<script>document.write('Actuel 40 °C')</script><p>Actuel 22,0 °C</p>")

	assert.Equal(t, 22.0, got.Temperature.Current)
}

func TestPageText(t *testing.T) {
	text, err := PageText("<html><body><p>Actuel&nbsp;18,1&deg;C</p><style>p{}</style></body></html>")
	require.NoError(t, err)
	assert.Equal(t, "Actuel 18,1°C", text)
}
