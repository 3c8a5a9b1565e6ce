// Package pes computes the Performance Efficiency Score of a car setup and
// turns it into a lap-time estimate and setup advice.
package pes

import (
	"errors"
	"math"

	"pes-advisor/internal/models"
)

const (
	// CircuitLengthKM is the Le Mans circuit length
	CircuitLengthKM = 13.626

	// IdealPES is the score of the reference setup
	IdealPES = 0.001

	baseLapSeconds = 180.0
	lapScale       = 100000.0
)

// ErrZeroLapTime is returned when a lap time of zero makes speed undefined
var ErrZeroLapTime = errors.New("lap time is zero: unable to estimate speed")

// ScoreStatus tells a real score apart from the zero fallback
type ScoreStatus int

const (
	ScoreOK ScoreStatus = iota
	ScoreDegraded
)

func (s ScoreStatus) String() string {
	if s == ScoreDegraded {
		return "degraded"
	}
	return "ok"
}

// Score is the tagged result of Evaluate
type Score struct {
	Value  float64
	Status ScoreStatus
	Reason string
}

func degraded(reason string) Score {
	return Score{Value: 0, Status: ScoreDegraded, Reason: reason}
}

// Evaluate validates the record and computes its PES. Invalid input yields a
// degraded score with value 0.
func Evaluate(r models.TelemetryRecord) Score {
	fields := []float64{
		r.TirePressureFront, r.TirePressureRear,
		r.TireSizeFront, r.TireSizeRear,
		r.DriverWeightKG, r.CoolantTemperatureC,
	}
	for _, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return degraded("non-numeric telemetry field")
		}
	}

	switch {
	case r.CoolantTemperatureC == 0:
		return degraded("coolant temperature is zero")
	case r.DriverWeightKG == 0:
		return degraded("driver weight is zero")
	case r.AvgTireSize() == 0:
		return degraded("average tire size is zero")
	}

	denom := r.CoolantTemperatureC * r.DriverWeightKG * r.AvgTireSize()
	score := (1 / denom) * (1 + r.AvgTirePressure()/30)
	if math.IsInf(denom, 0) || denom == 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		return degraded("score is not finite")
	}
	return Score{Value: score, Status: ScoreOK}
}

// ComputeScore returns the PES, or 0 when the record cannot be scored
func ComputeScore(r models.TelemetryRecord) float64 {
	return Evaluate(r).Value
}

// EstimateLapTime maps a score to a lap time in seconds. The approximation is
// linear and unclamped.
func EstimateLapTime(score float64) float64 {
	return baseLapSeconds - (score * lapScale)
}

// DistanceAndSpeed returns the circuit length and the average speed for a lap
func DistanceAndSpeed(lapSeconds float64) (float64, float64, error) {
	if lapSeconds == 0 {
		return CircuitLengthKM, 0, ErrZeroLapTime
	}
	return CircuitLengthKM, CircuitLengthKM / (lapSeconds / 3600), nil
}

// Analyze runs the whole engine on a record. When the lap time is zero the
// analysis is returned without a speed together with ErrZeroLapTime.
func Analyze(r models.TelemetryRecord) (models.Analysis, error) {
	score := Evaluate(r)
	lap := EstimateLapTime(score.Value)

	a := models.Analysis{
		Record:      r,
		PES:         score.Value,
		ScoreStatus: score.Status.String(),
		ScoreReason: score.Reason,
		LapTime:     lap,
		LapDelta:    lap - EstimateLapTime(IdealPES),
		Suggestions: SuggestAdjustments(r),
	}

	distance, speed, err := DistanceAndSpeed(lap)
	a.DistanceKM = distance
	if err != nil {
		a.SpeedError = err.Error()
		return a, err
	}
	a.SpeedKPH = &speed
	return a, nil
}
