package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/parser"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/repository"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

// PageFetcher retrieves one station page as text
type PageFetcher interface {
	FetchPage(ctx context.Context, page, path string) (string, error)
}

// ScrapeConfig holds what the scrape service needs to know about the station
type ScrapeConfig struct {
	Station     string
	CurrentPath string
	ValuesPath  string
	CacheTTL    time.Duration
	// SnapshotMaxAge bounds how old a restored snapshot may be; zero means
	// no bound
	SnapshotMaxAge time.Duration
}

// ScrapeService fetches both station pages, merges them into one reading
// and serves it through a TTL cache that falls back to the last valid
// reading when the station is unreachable.
type ScrapeService struct {
	fetcher   PageFetcher
	parser    *parser.Parser
	snapshots repository.SnapshotRepository
	config    ScrapeConfig
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time

	// scrapeMu serialises upstream refreshes
	scrapeMu sync.Mutex

	mu           sync.RWMutex
	cache        *models.Reading
	cachedAt     time.Time
	lastSuccess  bool
	lastDuration time.Duration
}

// ScrapeOption configures a ScrapeService
type ScrapeOption func(*ScrapeService)

// WithSnapshots persists every valid reading to repo and allows Restore
func WithSnapshots(repo repository.SnapshotRepository) ScrapeOption {
	return func(s *ScrapeService) {
		s.snapshots = repo
	}
}

// WithScrapeClock overrides the clock used for cache ages
func WithScrapeClock(now func() time.Time) ScrapeOption {
	return func(s *ScrapeService) {
		s.now = now
	}
}

// NewScrapeService creates a new scrape service
func NewScrapeService(
	fetcher PageFetcher,
	pageParser *parser.Parser,
	cfg ScrapeConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	opts ...ScrapeOption,
) *ScrapeService {
	s := &ScrapeService{
		fetcher: fetcher,
		parser:  pageParser,
		config:  cfg,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Station returns the station name used in metric labels
func (s *ScrapeService) Station() string {
	return s.config.Station
}

// Scrape returns the current best-known reading, or nil when nothing was
// ever cached. Unless force is set, a cached reading younger than the TTL
// is returned without contacting the station.
func (s *ScrapeService) Scrape(ctx context.Context, force bool) *models.Reading {
	if !force {
		if r := s.fresh(); r != nil {
			s.metrics.RecordScrape("cache_hit")
			return r
		}
	}

	s.scrapeMu.Lock()
	defer s.scrapeMu.Unlock()

	// Another caller may have refreshed the cache while we waited
	if !force {
		if r := s.fresh(); r != nil {
			s.metrics.RecordScrape("cache_hit")
			return r
		}
	}

	return s.refresh(ctx)
}

func (s *ScrapeService) refresh(ctx context.Context) (result *models.Reading) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.RecordScrape("panic")
			s.logger.Error(ctx, "[SCRAPE_PANIC] Scrape aborted, serving cached reading", logging.Fields{
				"station": s.config.Station,
			}, fmt.Errorf("panic: %v", rec))
			s.setSuccess(false)
			result = s.cached()
		}

		elapsed := time.Since(start)
		s.metrics.ScrapeDuration.Observe(elapsed.Seconds())
		s.mu.Lock()
		s.lastDuration = elapsed
		s.mu.Unlock()
	}()

	s.logger.Debug(ctx, "[SCRAPE_START] Fetching station pages", logging.Fields{
		"station":      s.config.Station,
		"current_path": s.config.CurrentPath,
		"values_path":  s.config.ValuesPath,
	})

	var (
		wg                      sync.WaitGroup
		currentPage, valuesPage string
		currentErr, valuesErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		currentPage, currentErr = s.fetch(ctx, parser.PageCurrent, s.config.CurrentPath)
	}()
	go func() {
		defer wg.Done()
		valuesPage, valuesErr = s.fetch(ctx, parser.PageValues, s.config.ValuesPath)
	}()
	wg.Wait()

	if currentErr != nil && valuesErr != nil {
		s.setSuccess(false)
		s.metrics.RecordScrape("fetch_failed")
		s.logger.Error(ctx, "[SCRAPE_FAILED] Both station pages unavailable, serving cached reading", logging.Fields{
			"station":      s.config.Station,
			"values_error": valuesErr.Error(),
		}, currentErr)
		return s.cached()
	}

	if currentErr != nil || valuesErr != nil {
		s.logger.Warn(ctx, "[SCRAPE_PARTIAL] One station page unavailable, using the other", logging.Fields{
			"station":       s.config.Station,
			"current_error": errString(currentErr),
			"values_error":  errString(valuesErr),
		})
	}

	var reading *models.Reading
	if currentErr == nil {
		reading = s.parser.ParseCurrent(ctx, currentPage)
	}
	if valuesErr == nil {
		reading = s.parser.ParseValues(ctx, valuesPage, reading)
	}

	if !reading.IsValid() {
		s.setSuccess(false)
		s.metrics.RecordScrape("invalid")
		s.logger.Warn(ctx, "[SCRAPE_INVALID] Parsed reading has no usable data, keeping cached reading", logging.Fields{
			"station": s.config.Station,
		})
		return s.cached()
	}

	cachedAt := s.now()
	s.mu.Lock()
	s.cache = reading
	s.cachedAt = cachedAt
	s.lastSuccess = true
	s.mu.Unlock()

	s.metrics.RecordScrape("success")
	s.logger.Info(ctx, "[SCRAPE_SUCCESS] Station reading refreshed", logging.Fields{
		"station":     s.config.Station,
		"temperature": reading.Temperature.Current,
		"humidity":    reading.Humidity.Current,
		"pressure":    reading.Pressure.Current,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	s.persist(ctx, reading.Clone(), cachedAt)

	return reading.Clone()
}

// fetch calls the fetcher and turns a panic into an error
func (s *ScrapeService) fetch(ctx context.Context, page, path string) (body string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("fetching %s page: panic: %v", page, rec)
		}
	}()
	return s.fetcher.FetchPage(ctx, page, path)
}

// persist stores the snapshot best-effort; failures never reach the caller
func (s *ScrapeService) persist(ctx context.Context, reading *models.Reading, cachedAt time.Time) {
	if s.snapshots == nil {
		return
	}

	err := s.snapshots.SaveSnapshot(ctx, &repository.Snapshot{
		Station:  s.config.Station,
		Reading:  reading,
		CachedAt: cachedAt,
	})
	if err != nil {
		s.logger.Warn(ctx, "[SNAPSHOT_SAVE_ERROR] Unable to persist reading snapshot", logging.Fields{
			"station": s.config.Station,
			"error":   err.Error(),
		})
	}
}

// Restore seeds an empty cache from the persisted snapshot of the station.
// A missing, invalid or too old snapshot is skipped without error. The
// cache keeps the snapshot's original timestamp and the last scrape stays
// unsuccessful until a real scrape succeeds.
func (s *ScrapeService) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}

	snapshot, err := s.snapshots.GetSnapshot(ctx, s.config.Station)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			s.logger.Info(ctx, "[SNAPSHOT_RESTORE] No snapshot to restore", logging.Fields{
				"station": s.config.Station,
			})
			return nil
		}
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	fields := logging.Fields{
		"station":   s.config.Station,
		"cached_at": snapshot.CachedAt.UTC().Format(time.RFC3339),
	}

	if !snapshot.Reading.IsValid() {
		s.logger.Warn(ctx, "[SNAPSHOT_RESTORE] Snapshot reading is not valid, skipping", fields)
		return nil
	}

	age := s.now().Sub(snapshot.CachedAt)
	fields["age_seconds"] = age.Seconds()
	if s.config.SnapshotMaxAge > 0 && age > s.config.SnapshotMaxAge {
		s.logger.Info(ctx, "[SNAPSHOT_RESTORE] Snapshot too old, skipping", fields)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil {
		return nil
	}
	s.cache = snapshot.Reading
	s.cachedAt = snapshot.CachedAt

	s.logger.Info(ctx, "[SNAPSHOT_RESTORE] Cache seeded from snapshot", fields)
	return nil
}

// Snapshot store states reported by SnapshotStatus
const (
	SnapshotsDisabled    = "disabled"
	SnapshotsOK          = "ok"
	SnapshotsUnavailable = "unavailable"
)

// SnapshotStatus checks the snapshot store when one is configured
func (s *ScrapeService) SnapshotStatus(ctx context.Context) string {
	if s.snapshots == nil {
		return SnapshotsDisabled
	}
	if err := s.snapshots.HealthCheck(ctx); err != nil {
		s.logger.Warn(ctx, "[SNAPSHOT_HEALTH] Snapshot store unreachable", logging.Fields{
			"station": s.config.Station,
			"error":   err.Error(),
		})
		return SnapshotsUnavailable
	}
	return SnapshotsOK
}

// LastScrapeDuration returns the wall-clock duration of the last refresh
func (s *ScrapeService) LastScrapeDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDuration
}

// LastScrapeSuccess reports whether the last refresh produced a valid reading
func (s *ScrapeService) LastScrapeSuccess() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSuccess
}

// CacheAge returns the age of the cached reading in seconds, +Inf when the
// cache was never populated
func (s *ScrapeService) CacheAge() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return math.Inf(1)
	}
	return s.now().Sub(s.cachedAt).Seconds()
}

// fresh returns a clone of the cached reading when it is within the TTL
func (s *ScrapeService) fresh() *models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil || s.now().Sub(s.cachedAt) >= s.config.CacheTTL {
		return nil
	}
	return s.cache.Clone()
}

func (s *ScrapeService) cached() *models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Clone()
}

func (s *ScrapeService) setSuccess(ok bool) {
	s.mu.Lock()
	s.lastSuccess = ok
	s.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
