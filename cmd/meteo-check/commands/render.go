package commands

import (
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/models"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// renderReading lays a reading out as quantity, field, value and unit rows
func renderReading(t table.Writer, r *models.Reading) {
	t.AppendHeader(table.Row{"Quantity", "Field", "Value", "Unit"})

	t.AppendRows([]table.Row{
		{"temperature", "current", num(r.Temperature.Current), "°C"},
		{"temperature", "min", num(r.Temperature.Min), "°C"},
		{"temperature", "max", num(r.Temperature.Max), "°C"},
		{"temperature", "average", num(r.Temperature.Average), "°C"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"humidity", "current", strconv.Itoa(r.Humidity.Current), "%"},
		{"humidity", "min", strconv.Itoa(r.Humidity.Min), "%"},
		{"humidity", "max", strconv.Itoa(r.Humidity.Max), "%"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"pressure", "current", num(r.Pressure.Current), "hPa"},
		{"pressure", "trend", num(r.Pressure.Trend), "hPa"},
		{"pressure", "min", num(r.Pressure.Min), "hPa"},
		{"pressure", "max", num(r.Pressure.Max), "hPa"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"wind", "speed", num(r.Wind.Speed), "km/h"},
		{"wind", "gust_max", num(r.Wind.GustMax), "km/h"},
		{"wind", "direction", num(r.Wind.Direction), "°"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"rain", "today", num(r.Rain.Today), "mm"},
		{"rain", "month", num(r.Rain.Month), "mm"},
		{"rain", "year", num(r.Rain.Year), "mm"},
		{"rain", "rate", num(r.Rain.Rate), "mm/h"},
		{"rain", "rate_max", num(r.Rain.RateMax), "mm/h"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"solar", "radiation_current", num(r.Solar.RadiationCurrent), "W/m²"},
		{"solar", "radiation_max", num(r.Solar.RadiationMax), "W/m²"},
		{"solar", "sunshine_today", num(r.Solar.SunshineTodayMinutes), "min"},
		{"solar", "sunshine_month", num(r.Solar.SunshineMonthMinutes), "min"},
		{"solar", "sunshine_year", num(r.Solar.SunshineYearMinutes), "min"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"dewpoint", "", num(r.Dewpoint), "°C"},
		{"heat_index", "", num(r.HeatIndex), "°C"},
		{"thsw_index", "", num(r.THSWIndex), "°C"},
	})

	t.AppendSeparator()
	t.AppendRow(table.Row{"timestamp", r.StationInfo.Name, r.Timestamp.Format(time.RFC3339), ""})
}
