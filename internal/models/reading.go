package models

import (
	"time"
)

// Temperature holds temperatures in Celsius
type Temperature struct {
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// Humidity holds relative humidity in percent
type Humidity struct {
	Current int `json:"current"`
	Min     int `json:"min"`
	Max     int `json:"max"`
}

// Pressure holds atmospheric pressure in hPa
type Pressure struct {
	Current float64 `json:"current"`
	Trend   float64 `json:"trend"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Wind holds wind speeds in km/h and direction in degrees
type Wind struct {
	Speed         float64 `json:"speed"`
	Direction     float64 `json:"direction"`
	GustMax       float64 `json:"gust_max"`
	Average       float64 `json:"average"`
	DirectionText string  `json:"direction_text"`
}

// Rain holds precipitation totals in mm and rates in mm/h
type Rain struct {
	LastHour float64 `json:"last_hour"`
	Today    float64 `json:"today"`
	Last24h  float64 `json:"last_24h"`
	Month    float64 `json:"month"`
	Year     float64 `json:"year"`
	Rate     float64 `json:"rate"`
	RateMax  float64 `json:"rate_max"`
}

// Solar holds radiation in W/m² and sunshine durations in minutes
type Solar struct {
	RadiationCurrent     float64 `json:"radiation_current"`
	RadiationMax         float64 `json:"radiation_max"`
	SunshineTodayMinutes float64 `json:"sunshine_today_minutes"`
	SunshineMonthMinutes float64 `json:"sunshine_month_minutes"`
	SunshineYearMinutes  float64 `json:"sunshine_year_minutes"`
}

// StationInfo is the static identity of the station. It is never scraped.
type StationInfo struct {
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// DefaultStationInfo returns the identity of the Roquefort-les-Pins station
func DefaultStationInfo() StationInfo {
	return StationInfo{
		Name:      "La Rose des Vents",
		Location:  "Roquefort les Pins",
		Latitude:  43.669,
		Longitude: 7.086,
		Altitude:  193.0,
	}
}

// Reading is one snapshot of station measurements assembled from the
// station pages. A zero Timestamp means the reading was never stamped.
type Reading struct {
	Temperature Temperature `json:"temperature"`
	Humidity    Humidity    `json:"humidity"`
	Pressure    Pressure    `json:"pressure"`
	Wind        Wind        `json:"wind"`
	Rain        Rain        `json:"rain"`
	Solar       Solar       `json:"solar"`
	Dewpoint    float64     `json:"dewpoint"`
	HeatIndex   float64     `json:"heat_index"`
	THSWIndex   float64     `json:"thsw_index"`
	Timestamp   time.Time   `json:"timestamp"`
	StationInfo StationInfo `json:"station_info"`
}

// NewReading creates an empty, unstamped reading for the default station
func NewReading() *Reading {
	return &Reading{
		StationInfo: DefaultStationInfo(),
	}
}

// HasTimestamp reports whether the reading has been stamped by a parser
func (r *Reading) HasTimestamp() bool {
	return r != nil && !r.Timestamp.IsZero()
}

// IsValid reports whether the reading carries real data: it must be stamped
// and at least one primary quantity must be non-zero.
func (r *Reading) IsValid() bool {
	if !r.HasTimestamp() {
		return false
	}

	return r.Temperature.Current != 0 ||
		r.Humidity.Current != 0 ||
		r.Pressure.Current != 0 ||
		r.Wind.Speed != 0 ||
		r.Rain.Today != 0
}

// Clone returns an independent copy of the reading
func (r *Reading) Clone() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
