package models

import "time"

// TelemetryRecord is a single car setup snapshot fed to the PES engine
type TelemetryRecord struct {
	TirePressureFront   float64 `json:"TirePressure_Front"`   // PSI
	TirePressureRear    float64 `json:"TirePressure_Rear"`    // PSI
	TireSizeFront       float64 `json:"TireSize_Front"`       // mm
	TireSizeRear        float64 `json:"TireSize_Rear"`        // mm
	DriverWeightKG      float64 `json:"DriverWeight_kg"`      // kg
	CoolantTemperatureC float64 `json:"CoolantTemperature_C"` // Celsius
}

// AvgTireSize returns the mean of front and rear tire sizes
func (r TelemetryRecord) AvgTireSize() float64 {
	return (r.TireSizeFront + r.TireSizeRear) / 2
}

// AvgTirePressure returns the mean of front and rear tire pressures
func (r TelemetryRecord) AvgTirePressure() float64 {
	return (r.TirePressureFront + r.TirePressureRear) / 2
}

// TelemetryInput is the wire form of a record where every field may be absent
type TelemetryInput struct {
	TirePressureFront   *float64 `json:"TirePressure_Front"`
	TirePressureRear    *float64 `json:"TirePressure_Rear"`
	TireSizeFront       *float64 `json:"TireSize_Front"`
	TireSizeRear        *float64 `json:"TireSize_Rear"`
	DriverWeightKG      *float64 `json:"DriverWeight_kg"`
	CoolantTemperatureC *float64 `json:"CoolantTemperature_C"`
}

// Missing lists the JSON names of absent fields
func (in TelemetryInput) Missing() []string {
	var missing []string
	fields := []struct {
		name string
		v    *float64
	}{
		{"TirePressure_Front", in.TirePressureFront},
		{"TirePressure_Rear", in.TirePressureRear},
		{"TireSize_Front", in.TireSizeFront},
		{"TireSize_Rear", in.TireSizeRear},
		{"DriverWeight_kg", in.DriverWeightKG},
		{"CoolantTemperature_C", in.CoolantTemperatureC},
	}
	for _, f := range fields {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Record converts the input to a record. Absent fields become zero.
func (in TelemetryInput) Record() TelemetryRecord {
	deref := func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	}
	return TelemetryRecord{
		TirePressureFront:   deref(in.TirePressureFront),
		TirePressureRear:    deref(in.TirePressureRear),
		TireSizeFront:       deref(in.TireSizeFront),
		TireSizeRear:        deref(in.TireSizeRear),
		DriverWeightKG:      deref(in.DriverWeightKG),
		CoolantTemperatureC: deref(in.CoolantTemperatureC),
	}
}

// HistoricalRow is one row of the precomputed historical dataset
type HistoricalRow struct {
	TelemetryRecord
	CoolantType string  `json:"CoolantType,omitempty"`
	PES         float64 `json:"PES"`
}

// Passage is a historical row stored with its text form and embedding
type Passage struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Row       HistoricalRow `json:"row"`
	Embedding []float64     `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
}

// Match is a passage returned by similarity search
type Match struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

// Analysis is the full engine output for one record
type Analysis struct {
	Record      TelemetryRecord `json:"record"`
	PES         float64         `json:"pes"`
	ScoreStatus string          `json:"score_status"`
	ScoreReason string          `json:"score_reason,omitempty"`
	LapTime     float64         `json:"lap_time_seconds"`
	LapDelta    float64         `json:"lap_delta_seconds"`
	DistanceKM  float64         `json:"distance_km"`
	SpeedKPH    *float64        `json:"speed_kph,omitempty"`
	SpeedError  string          `json:"speed_error,omitempty"`
	Suggestions []string        `json:"suggestions"`
}

// RAGResult is the outcome of a retrieval query
type RAGResult struct {
	Query    string        `json:"query"`
	Context  string        `json:"context"`
	Row      HistoricalRow `json:"row"`
	Score    float64       `json:"similarity"`
	Analysis Analysis      `json:"analysis"`
}

// OptimalRange is a reference range for one parameter
type OptimalRange struct {
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Recommended *float64 `json:"recommended,omitempty"`
}

// StoreStats summarises the passage store
type StoreStats struct {
	TotalPassages int64   `json:"total_passages"`
	EmbeddingDim  int     `json:"embedding_dim"`
	AvgPES        float64 `json:"avg_pes"`
	MinPES        float64 `json:"min_pes"`
	MaxPES        float64 `json:"max_pes"`
}
