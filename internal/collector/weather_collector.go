// Package collector exposes the cached station reading as Prometheus gauges.
package collector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
)

const namespace = "weather"

// ReadingSource is the part of the scrape service the collector reads
type ReadingSource interface {
	Scrape(ctx context.Context, force bool) *models.Reading
	LastScrapeSuccess() bool
	LastScrapeDuration() time.Duration
	CacheAge() float64
}

// WeatherCollector implements prometheus.Collector. Every collection asks
// the source for its current reading, which is served from cache while
// fresh.
type WeatherCollector struct {
	source  ReadingSource
	station string
	logger  *logging.StructuredLogger

	temperature   *prometheus.Desc
	humidity      *prometheus.Desc
	pressure      *prometheus.Desc
	pressureTrend *prometheus.Desc
	windSpeed     *prometheus.Desc
	windDirection *prometheus.Desc
	rain          *prometheus.Desc
	rainRate      *prometheus.Desc
	solar         *prometheus.Desc
	sunshine      *prometheus.Desc
	dewpoint      *prometheus.Desc
	heatIndex     *prometheus.Desc
	thswIndex     *prometheus.Desc
	stationInfo   *prometheus.Desc
	lastUpdate    *prometheus.Desc

	scrapeSuccess  *prometheus.Desc
	scrapeDuration *prometheus.Desc
	cacheAge       *prometheus.Desc
}

func newDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", name),
		help,
		append([]string{"station"}, labels...),
		nil,
	)
}

// NewWeatherCollector creates a collector for station
func NewWeatherCollector(source ReadingSource, station string, logger *logging.StructuredLogger) *WeatherCollector {
	return &WeatherCollector{
		source:  source,
		station: station,
		logger:  logger,

		temperature:   newDesc("temperature_celsius", "Temperature in Celsius", "type"),
		humidity:      newDesc("humidity_percent", "Relative humidity in percent", "type"),
		pressure:      newDesc("pressure_hpa", "Atmospheric pressure in hPa", "type"),
		pressureTrend: newDesc("pressure_trend_hpa", "Atmospheric pressure trend in hPa"),
		windSpeed:     newDesc("wind_speed_kmh", "Wind speed in km/h", "type"),
		windDirection: newDesc("wind_direction_degrees", "Wind direction in degrees"),
		rain:          newDesc("rain_mm", "Precipitation in mm", "period"),
		rainRate:      newDesc("rain_rate_mmh", "Rainfall rate in mm/h", "type"),
		solar:         newDesc("solar_radiation_wm2", "Solar radiation in W/m²", "type"),
		sunshine:      newDesc("sunshine_minutes", "Sunshine duration in minutes", "period"),
		dewpoint:      newDesc("dewpoint_celsius", "Dew point temperature in Celsius"),
		heatIndex:     newDesc("heat_index_celsius", "Heat index in Celsius"),
		thswIndex:     newDesc("thsw_index_celsius", "THSW index in Celsius"),
		stationInfo: newDesc("station_info", "Weather station information",
			"name", "location", "latitude", "longitude", "altitude"),
		lastUpdate: newDesc("last_update_timestamp", "Timestamp of last weather data update"),

		scrapeSuccess:  newDesc("scrape_success", "Whether the last scrape was successful (1=success, 0=failure)"),
		scrapeDuration: newDesc("scrape_duration_seconds", "Duration of last scrape operation in seconds"),
		cacheAge:       newDesc("cache_age_seconds", "Age of cached weather data in seconds"),
	}
}

// Describe implements prometheus.Collector
func (c *WeatherCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.temperature, c.humidity, c.pressure, c.pressureTrend,
		c.windSpeed, c.windDirection, c.rain, c.rainRate,
		c.solar, c.sunshine, c.dewpoint, c.heatIndex, c.thswIndex,
		c.stationInfo, c.lastUpdate,
		c.scrapeSuccess, c.scrapeDuration, c.cacheAge,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *WeatherCollector) Collect(ch chan<- prometheus.Metric) {
	reading := c.source.Scrape(context.Background(), false)

	if reading.IsValid() {
		c.collectReading(ch, reading)
	} else {
		c.logger.Warn(context.Background(), "[COLLECT_EMPTY] No weather data available", logging.Fields{
			"station": c.station,
		})
	}

	success := 0.0
	if c.source.LastScrapeSuccess() {
		success = 1
	}
	c.gauge(ch, c.scrapeSuccess, success)
	c.gauge(ch, c.scrapeDuration, c.source.LastScrapeDuration().Seconds())
	c.gauge(ch, c.cacheAge, c.source.CacheAge())
}

func (c *WeatherCollector) collectReading(ch chan<- prometheus.Metric, r *models.Reading) {
	c.gauge(ch, c.temperature, r.Temperature.Current, "current")
	c.gauge(ch, c.temperature, r.Temperature.Min, "min")
	c.gauge(ch, c.temperature, r.Temperature.Max, "max")
	c.gauge(ch, c.temperature, r.Temperature.Average, "average")

	c.gauge(ch, c.humidity, float64(r.Humidity.Current), "current")
	c.gauge(ch, c.humidity, float64(r.Humidity.Min), "min")
	c.gauge(ch, c.humidity, float64(r.Humidity.Max), "max")

	c.gauge(ch, c.pressure, r.Pressure.Current, "current")
	c.gauge(ch, c.pressure, r.Pressure.Min, "min")
	c.gauge(ch, c.pressure, r.Pressure.Max, "max")
	c.gauge(ch, c.pressureTrend, r.Pressure.Trend)

	c.gauge(ch, c.windSpeed, r.Wind.Speed, "current")
	c.gauge(ch, c.windSpeed, r.Wind.Average, "average")
	c.gauge(ch, c.windSpeed, r.Wind.GustMax, "gust_max")
	c.gauge(ch, c.windDirection, r.Wind.Direction)

	c.gauge(ch, c.rain, r.Rain.LastHour, "last_hour")
	c.gauge(ch, c.rain, r.Rain.Today, "today")
	c.gauge(ch, c.rain, r.Rain.Last24h, "24h")
	c.gauge(ch, c.rain, r.Rain.Month, "month")
	c.gauge(ch, c.rain, r.Rain.Year, "year")
	c.gauge(ch, c.rainRate, r.Rain.Rate, "current")
	c.gauge(ch, c.rainRate, r.Rain.RateMax, "max")

	c.gauge(ch, c.solar, r.Solar.RadiationCurrent, "current")
	c.gauge(ch, c.solar, r.Solar.RadiationMax, "max")
	c.gauge(ch, c.sunshine, r.Solar.SunshineTodayMinutes, "today")
	c.gauge(ch, c.sunshine, r.Solar.SunshineMonthMinutes, "month")
	c.gauge(ch, c.sunshine, r.Solar.SunshineYearMinutes, "year")

	c.gauge(ch, c.dewpoint, r.Dewpoint)
	c.gauge(ch, c.heatIndex, r.HeatIndex)
	c.gauge(ch, c.thswIndex, r.THSWIndex)

	info := r.StationInfo
	c.gauge(ch, c.stationInfo, 1,
		info.Name,
		info.Location,
		formatCoordinate(info.Latitude),
		formatCoordinate(info.Longitude),
		formatCoordinate(info.Altitude),
	)

	c.gauge(ch, c.lastUpdate, float64(r.Timestamp.UnixMilli())/1000)
}

func (c *WeatherCollector) gauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, value float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, append([]string{c.station}, labels...)...)
}

// formatCoordinate always keeps a decimal part, so 193 renders as "193.0"
func formatCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
