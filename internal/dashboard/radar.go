// Package dashboard renders the manual-input dashboard and the user vs. ideal
// radar comparison.
package dashboard

import (
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"

	"pes-advisor/internal/models"
	"pes-advisor/internal/pes"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Axis is one radar dimension with its fixed normalization bounds
type Axis struct {
	Label string
	Min   float64
	Max   float64
	Ideal float64
}

// Axes in display order: coolant, weight, tire size, tire pressure, PES
var Axes = []Axis{
	{Label: "Coolant Temp", Min: 80, Max: 100, Ideal: 90},
	{Label: "Driver Weight", Min: 60, Max: 80, Ideal: 70},
	{Label: "Tire Size", Min: 295, Max: 315, Ideal: 305},
	{Label: "Tire Pressure", Min: 20, Max: 25, Ideal: 22},
	{Label: "PES", Min: 0, Max: 0.0015, Ideal: pes.IdealPES},
}

// normalize maps v into the axis range; values outside the bounds fall
// outside [0, 1]
func (a Axis) normalize(v float64) float64 {
	return (v - a.Min) / (a.Max - a.Min)
}

// UserValues returns the raw axis values for a record and its score
func UserValues(r models.TelemetryRecord, score float64) []float64 {
	return []float64{r.CoolantTemperatureC, r.DriverWeightKG, r.AvgTireSize(), r.AvgTirePressure(), score}
}

// Normalize maps raw axis values onto the radar scale
func Normalize(values []float64) []float64 {
	out := make([]float64, len(Axes))
	for i, a := range Axes {
		if i < len(values) {
			out[i] = a.normalize(values[i])
		}
	}
	return out
}

// IdealNormalized returns the normalized reference series
func IdealNormalized() []float64 {
	ideal := make([]float64, len(Axes))
	for i, a := range Axes {
		ideal[i] = a.Ideal
	}
	return Normalize(ideal)
}

// RadarChart builds the two-series comparison for a record
func RadarChart(r models.TelemetryRecord) *charts.Radar {
	score := pes.ComputeScore(r)

	indicators := make([]*opts.Indicator, len(Axes))
	for i, a := range Axes {
		indicators[i] = &opts.Indicator{Name: a.Label, Min: 0, Max: 1}
	}

	radar := charts.NewRadar()
	radar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PES Comparison", Width: "640px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Comparison Radar Chart", Subtitle: fmt.Sprintf("PES %.6f", score)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithRadarComponentOpts(opts.RadarComponent{
			Indicator:   indicators,
			Shape:       "polygon",
			SplitNumber: 5,
		}),
	)

	radar.AddSeries("User", radarData("User", Normalize(UserValues(r, score)))).
		AddSeries("Ideal", radarData("Ideal", IdealNormalized()))
	return radar
}

func radarData(name string, values []float64) []opts.RadarData {
	return []opts.RadarData{{Name: name, Value: values}}
}

// RenderRadar writes the radar chart as a standalone HTML page
func RenderRadar(w io.Writer, r models.TelemetryRecord) error {
	return RadarChart(r).Render(w)
}

// formFields maps form/query names to record fields, in form order
var formFields = []struct {
	name  string
	label string
	get   func(*models.TelemetryRecord) *float64
}{
	{"TirePressure_Front", "Tire Pressure Front (PSI)", func(r *models.TelemetryRecord) *float64 { return &r.TirePressureFront }},
	{"TirePressure_Rear", "Tire Pressure Rear (PSI)", func(r *models.TelemetryRecord) *float64 { return &r.TirePressureRear }},
	{"TireSize_Front", "Tire Size Front (mm)", func(r *models.TelemetryRecord) *float64 { return &r.TireSizeFront }},
	{"TireSize_Rear", "Tire Size Rear (mm)", func(r *models.TelemetryRecord) *float64 { return &r.TireSizeRear }},
	{"DriverWeight_kg", "Driver Weight (kg)", func(r *models.TelemetryRecord) *float64 { return &r.DriverWeightKG }},
	{"CoolantTemperature_C", "Coolant Temperature (°C)", func(r *models.TelemetryRecord) *float64 { return &r.CoolantTemperatureC }},
}

// DefaultRecord holds the form defaults
func DefaultRecord() models.TelemetryRecord {
	return models.TelemetryRecord{
		TirePressureFront:   22,
		TirePressureRear:    22,
		TireSizeFront:       305,
		TireSizeRear:        305,
		DriverWeightKG:      70,
		CoolantTemperatureC: 90,
	}
}

// RecordFromValues parses the six fields from form or query values
func RecordFromValues(values url.Values) (models.TelemetryRecord, error) {
	var r models.TelemetryRecord
	for _, f := range formFields {
		s := values.Get(f.name)
		if s == "" {
			return r, fmt.Errorf("%s is required", f.name)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return r, fmt.Errorf("%s must be a number", f.name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return r, fmt.Errorf("%s must be a finite number", f.name)
		}
		*f.get(&r) = v
	}
	return r, nil
}

// RecordValues encodes a record as query values
func RecordValues(r models.TelemetryRecord) url.Values {
	values := url.Values{}
	for _, f := range formFields {
		values.Set(f.name, strconv.FormatFloat(*f.get(&r), 'f', -1, 64))
	}
	return values
}
