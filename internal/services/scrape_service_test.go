package services

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/parser"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/repository"
	"github.com/pbeaudequin/exporter-meteo-chamois/migrations"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/database"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/httpclient"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

const (
	testStation     = "roquefort_les_pins"
	testCurrentPath = "meteo/currant.html"
	testValuesPath  = "meteo/vantage/valeurs.htm"
)

var errUnreachable = errors.New("station unreachable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeFetcher serves pages by page name and counts calls
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newFakeFetcher(current, values string) *fakeFetcher {
	return &fakeFetcher{
		pages: map[string]string{parser.PageCurrent: current, parser.PageValues: values},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) FetchPage(_ context.Context, page, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[page]++
	if err := f.errs[page]; err != nil {
		return "", err
	}
	return f.pages[page], nil
}

func (f *fakeFetcher) fail(pages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		f.errs[p] = errUnreachable
	}
}

func (f *fakeFetcher) serve(page, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, page)
	f.pages[page] = body
}

func (f *fakeFetcher) callCount(page string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "parser", "testdata", name))
	require.NoError(t, err)
	return string(data)
}

func newServiceFixture(t *testing.T, fetcher PageFetcher, opts ...ScrapeOption) (*ScrapeService, *fakeClock, *metrics.Collector) {
	t.Helper()

	clock := newFakeClock()
	collector := metrics.NewCollector(prometheus.NewRegistry(), "meteo_test")
	p := parser.New(logging.Discard(), collector, parser.WithClock(clock.Now))

	opts = append([]ScrapeOption{WithScrapeClock(clock.Now)}, opts...)
	service := NewScrapeService(fetcher, p, ScrapeConfig{
		Station:        testStation,
		CurrentPath:    testCurrentPath,
		ValuesPath:     testValuesPath,
		CacheTTL:       60 * time.Second,
		SnapshotMaxAge: time.Hour,
	}, logging.Discard(), collector, opts...)

	return service, clock, collector
}

func newFixtureFetcher(t *testing.T) *fakeFetcher {
	return newFakeFetcher(readFixture(t, "currant.html"), readFixture(t, "valeurs.htm"))
}

func TestScrape_CachesWithinTTL(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, clock, collector := newServiceFixture(t, fetcher)
	ctx := context.Background()

	first := service.Scrape(ctx, false)
	require.NotNil(t, first)

	clock.Advance(30 * time.Second)
	second := service.Scrape(ctx, false)
	require.NotNil(t, second)

	assert.Equal(t, 1, fetcher.callCount(parser.PageCurrent))
	assert.Equal(t, 1, fetcher.callCount(parser.PageValues))
	assert.Equal(t, first, second)
	assert.Equal(t, 30.0, service.CacheAge())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ScrapesTotal.WithLabelValues("cache_hit")))

	clock.Advance(31 * time.Second)
	service.Scrape(ctx, false)
	assert.Equal(t, 2, fetcher.callCount(parser.PageCurrent), "expired cache triggers a refresh")
}

func TestScrape_ForceBypassesCache(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, _, _ := newServiceFixture(t, fetcher)
	ctx := context.Background()

	service.Scrape(ctx, false)
	service.Scrape(ctx, true)

	assert.Equal(t, 2, fetcher.callCount(parser.PageCurrent))
	assert.Equal(t, 2, fetcher.callCount(parser.PageValues))
}

func TestScrape_StaleFallbackOnTotalFailure(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, clock, collector := newServiceFixture(t, fetcher)
	ctx := context.Background()

	first := service.Scrape(ctx, false)
	require.NotNil(t, first)
	require.True(t, service.LastScrapeSuccess())

	fetcher.fail(parser.PageCurrent, parser.PageValues)
	clock.Advance(90 * time.Second)

	got := service.Scrape(ctx, false)
	require.NotNil(t, got)

	assert.Equal(t, first, got, "stale reading is served unchanged")
	assert.False(t, service.LastScrapeSuccess())
	assert.Equal(t, 90.0, service.CacheAge())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ScrapesTotal.WithLabelValues("fetch_failed")))
}

func TestScrape_NothingCached(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	fetcher.fail(parser.PageCurrent, parser.PageValues)
	service, _, _ := newServiceFixture(t, fetcher)

	assert.Nil(t, service.Scrape(context.Background(), false))
	assert.False(t, service.LastScrapeSuccess())
	assert.True(t, math.IsInf(service.CacheAge(), 1))
}

func TestScrape_PartialSources(t *testing.T) {
	tests := []struct {
		name    string
		failing string
		check   func(t *testing.T, r *models.Reading)
	}{
		{
			name:    "values page only",
			failing: parser.PageCurrent,
			check: func(t *testing.T, r *models.Reading) {
				assert.Equal(t, 18.3, r.Temperature.Current)
				assert.Equal(t, 612.4, r.Rain.Year)
				assert.Equal(t, 0.0, r.Solar.SunshineTodayMinutes)
			},
		},
		{
			name:    "current page only",
			failing: parser.PageValues,
			check: func(t *testing.T, r *models.Reading) {
				assert.Equal(t, 18.1, r.Temperature.Current)
				assert.Equal(t, 147.0, r.Solar.SunshineTodayMinutes)
				assert.Equal(t, 0.0, r.Rain.Year)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFixtureFetcher(t)
			fetcher.fail(tt.failing)
			service, _, _ := newServiceFixture(t, fetcher)

			got := service.Scrape(context.Background(), false)
			require.NotNil(t, got)
			assert.True(t, got.IsValid())
			assert.True(t, service.LastScrapeSuccess())
			tt.check(t, got)
		})
	}
}

func TestScrape_InvalidReadingKeepsCache(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, clock, collector := newServiceFixture(t, fetcher)
	ctx := context.Background()

	first := service.Scrape(ctx, false)
	require.NotNil(t, first)

	fetcher.serve(parser.PageCurrent, "<html><body>Maintenance</body></html>")
	fetcher.serve(parser.PageValues, "<html><body></body></html>")
	clock.Advance(2 * time.Minute)

	got := service.Scrape(ctx, false)
	assert.Equal(t, first, got)
	assert.False(t, service.LastScrapeSuccess())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.ScrapesTotal.WithLabelValues("invalid")))
}

func TestScrape_ReadersGetClones(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, _, _ := newServiceFixture(t, fetcher)
	ctx := context.Background()

	got := service.Scrape(ctx, false)
	got.Temperature.Current = -40

	again := service.Scrape(ctx, false)
	assert.Equal(t, 18.3, again.Temperature.Current)
}

func TestScrape_ConcurrentCallersShareOneRefresh(t *testing.T) {
	fetcher := newFixtureFetcher(t)
	service, _, _ := newServiceFixture(t, fetcher)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, service.Scrape(ctx, false))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fetcher.callCount(parser.PageCurrent))
	assert.Equal(t, 1, fetcher.callCount(parser.PageValues))
}

type panickingFetcher struct{}

func (panickingFetcher) FetchPage(context.Context, string, string) (string, error) {
	panic("boom")
}

func TestScrape_FetcherPanicIsContained(t *testing.T) {
	service, _, _ := newServiceFixture(t, panickingFetcher{})

	var got *models.Reading
	require.NotPanics(t, func() { got = service.Scrape(context.Background(), false) })
	assert.Nil(t, got)
	assert.False(t, service.LastScrapeSuccess())
}

func TestScrape_EndToEndOverHTTP(t *testing.T) {
	current := readFixture(t, "currant.html")
	values := readFixture(t, "valeurs.htm")

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testCurrentPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(current))
	})
	mux.HandleFunc("/"+testValuesPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(values))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	collector := metrics.NewCollector(prometheus.NewRegistry(), "meteo_test")
	client := httpclient.New(httpclient.Options{
		BaseURL:   server.URL,
		Timeout:   2 * time.Second,
		RetryWait: time.Millisecond,
	}, logging.Discard(), collector)

	service, clock, _ := newServiceFixture(t, client)

	got := service.Scrape(context.Background(), false)
	require.NotNil(t, got)

	want := models.NewReading()
	want.Temperature = models.Temperature{Current: 18.3, Min: 13.5, Max: 21.6, Average: 15.7}
	want.Humidity = models.Humidity{Current: 66, Min: 47, Max: 92}
	want.Pressure = models.Pressure{Current: 1013.5, Trend: 1.2, Min: 1011.9, Max: 1016.8}
	want.Wind = models.Wind{Speed: 11.3, GustMax: 38.6}
	want.Rain = models.Rain{Today: 2.6, Month: 48.2, Year: 612.4, RateMax: 4.2}
	want.Solar = models.Solar{
		RadiationCurrent:     167,
		RadiationMax:         557,
		SunshineTodayMinutes: 147,
		SunshineMonthMinutes: 9396,
		SunshineYearMinutes:  130605,
	}
	want.Dewpoint = 11.8
	want.HeatIndex = 18.0
	want.THSWIndex = 20.1
	want.Timestamp = clock.Now()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("end-to-end reading mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, service.LastScrapeSuccess())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.UpstreamRequestsTotal.WithLabelValues(parser.PageCurrent, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.UpstreamRequestsTotal.WithLabelValues(parser.PageValues, "200")))
}

func newSQLiteSnapshots(t *testing.T) repository.SnapshotRepository {
	t.Helper()

	collector := metrics.NewCollector(prometheus.NewRegistry(), "meteo_test")
	db, err := database.Open(&database.Config{
		Driver:       database.DriverSQLite,
		DSN:          ":memory:",
		MaxOpenConns: 1,
	}, logging.Discard(), collector)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, schema, err := migrations.Load(migrations.Up)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), "migrate", schema)
	require.NoError(t, err)

	return repository.NewSnapshotRepository(db, logging.Discard(), collector)
}

func TestScrape_PersistsSnapshot(t *testing.T) {
	snapshots := newSQLiteSnapshots(t)
	service, clock, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(snapshots))

	require.NotNil(t, service.Scrape(context.Background(), false))

	snapshot, err := snapshots.GetSnapshot(context.Background(), testStation)
	require.NoError(t, err)
	assert.True(t, snapshot.CachedAt.Equal(clock.Now()))
	assert.Equal(t, 18.3, snapshot.Reading.Temperature.Current)
}

func TestRestore_SeedsCacheFromSnapshot(t *testing.T) {
	snapshots := newSQLiteSnapshots(t)
	ctx := context.Background()

	writer, _, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(snapshots))
	first := writer.Scrape(ctx, false)
	require.NotNil(t, first)

	fetcher := newFixtureFetcher(t)
	fetcher.fail(parser.PageCurrent, parser.PageValues)
	restarted, restartedClock, _ := newServiceFixture(t, fetcher, WithSnapshots(snapshots))
	restartedClock.Advance(20 * time.Second)

	require.NoError(t, restarted.Restore(ctx))

	got := restarted.Scrape(ctx, false)
	require.NotNil(t, got)
	assert.Equal(t, 0, fetcher.callCount(parser.PageCurrent), "restored reading is still within TTL")
	assert.Equal(t, first.Temperature, got.Temperature)
	assert.False(t, restarted.LastScrapeSuccess())
	assert.Equal(t, 20.0, restarted.CacheAge())
}

func TestRestore_SkipsOldSnapshot(t *testing.T) {
	snapshots := newSQLiteSnapshots(t)
	ctx := context.Background()

	writer, _, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(snapshots))
	require.NotNil(t, writer.Scrape(ctx, false))

	restarted, restartedClock, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(snapshots))
	restartedClock.Advance(2 * time.Hour)

	require.NoError(t, restarted.Restore(ctx))
	assert.True(t, math.IsInf(restarted.CacheAge(), 1))
}

func TestRestore_NoSnapshot(t *testing.T) {
	service, _, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(newSQLiteSnapshots(t)))

	require.NoError(t, service.Restore(context.Background()))
	assert.True(t, math.IsInf(service.CacheAge(), 1))
}

func TestRestore_WithoutRepository(t *testing.T) {
	service, _, _ := newServiceFixture(t, newFixtureFetcher(t))
	assert.NoError(t, service.Restore(context.Background()))
}

type failingSnapshots struct {
	repository.SnapshotRepository
}

func (failingSnapshots) SaveSnapshot(context.Context, *repository.Snapshot) error {
	return errors.New("disk full")
}

func TestScrape_SnapshotFailureDoesNotFailScrape(t *testing.T) {
	service, _, _ := newServiceFixture(t, newFixtureFetcher(t), WithSnapshots(failingSnapshots{}))

	got := service.Scrape(context.Background(), false)
	require.NotNil(t, got)
	assert.True(t, service.LastScrapeSuccess())
}

func (failingSnapshots) HealthCheck(context.Context) error {
	return errors.New("connection refused")
}

func TestSnapshotStatus(t *testing.T) {
	tests := []struct {
		name string
		opts []ScrapeOption
		want string
	}{
		{name: "no store", want: SnapshotsDisabled},
		{name: "sqlite store", opts: []ScrapeOption{WithSnapshots(newSQLiteSnapshots(t))}, want: SnapshotsOK},
		{name: "unreachable store", opts: []ScrapeOption{WithSnapshots(failingSnapshots{})}, want: SnapshotsUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newServiceFixture(t, newFixtureFetcher(t), tt.opts...)
			assert.Equal(t, tt.want, service.SnapshotStatus(context.Background()))
		})
	}
}
