package pes

import (
	"fmt"
	"strconv"

	"pes-advisor/internal/models"
)

// Advisory status values
const (
	StatusLow     = "low"
	StatusHigh    = "high"
	StatusOptimal = "optimal"
	StatusAdjust  = "adjust"
)

// Reference bounds used by the advisor and the ranges endpoint
const (
	CoolantMin      = 85.0
	CoolantMax      = 95.0
	DriverWeightMin = 68.0
	DriverWeightMax = 72.0
	RecommendedTire = 305.0
	TirePressureMin = 21.5
	TirePressureMax = 22.5
)

// Advisory is one categorized setup suggestion
type Advisory struct {
	Parameter string `json:"parameter"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// num renders a value with the shortest exact decimal form
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func checkRange(param string, value, lo, hi float64, label, unit, icon string) Advisory {
	a := Advisory{Parameter: param}
	switch {
	case value < lo:
		a.Status = StatusLow
		a.Message = fmt.Sprintf("%s %s is too low (%s%s). Increase to %s–%s%s.",
			icon, label, num(value), unit, num(lo), num(hi), unit)
	case value > hi:
		a.Status = StatusHigh
		a.Message = fmt.Sprintf("%s %s is too high (%s%s). Reduce to %s–%s%s.",
			icon, label, num(value), unit, num(lo), num(hi), unit)
	default:
		a.Status = StatusOptimal
		a.Message = fmt.Sprintf("✅ %s is optimal at %s%s (within %s–%s%s).",
			label, num(value), unit, num(lo), num(hi), unit)
	}
	return a
}

// Advise returns the four setup advisories in fixed order: coolant, driver
// weight, tire sizes, average tire pressure.
func Advise(r models.TelemetryRecord) []Advisory {
	advice := make([]Advisory, 0, 4)
	advice = append(advice,
		checkRange("CoolantTemperature_C", r.CoolantTemperatureC, CoolantMin, CoolantMax, "Coolant Temperature", "°C", "🌡️"),
		checkRange("DriverWeight_kg", r.DriverWeightKG, DriverWeightMin, DriverWeightMax, "Driver Weight", "kg", "⚖️"),
	)

	tires := Advisory{Parameter: "TireSize"}
	if r.TireSizeFront != RecommendedTire || r.TireSizeRear != RecommendedTire {
		tires.Status = StatusAdjust
		tires.Message = fmt.Sprintf("🛞 Use %s mm tire size for both front and rear (currently %s/%s) for optimal PES.",
			num(RecommendedTire), num(r.TireSizeFront), num(r.TireSizeRear))
	} else {
		tires.Status = StatusOptimal
		tires.Message = fmt.Sprintf("✅ Tire sizes are optimal at %s mm (front and rear).", num(RecommendedTire))
	}
	advice = append(advice, tires)

	advice = append(advice,
		checkRange("TirePressure_Average", r.AvgTirePressure(), TirePressureMin, TirePressureMax, "Average Tire Pressure", " PSI", "🔧"),
	)
	return advice
}

// SuggestAdjustments returns the advisory messages of Advise
func SuggestAdjustments(r models.TelemetryRecord) []string {
	advice := Advise(r)
	out := make([]string, len(advice))
	for i, a := range advice {
		out[i] = a.Message
	}
	return out
}

// OptimalRanges returns the fixed reference table keyed by parameter name
func OptimalRanges() map[string]models.OptimalRange {
	f := func(v float64) *float64 { return &v }
	return map[string]models.OptimalRange{
		"CoolantTemperature_C": {Min: f(CoolantMin), Max: f(CoolantMax)},
		"DriverWeight_kg":      {Min: f(DriverWeightMin), Max: f(DriverWeightMax)},
		"TireSize_Front":       {Recommended: f(RecommendedTire)},
		"TireSize_Rear":        {Recommended: f(RecommendedTire)},
		"TirePressure_Average": {Min: f(TirePressureMin), Max: f(TirePressureMax)},
	}
}
