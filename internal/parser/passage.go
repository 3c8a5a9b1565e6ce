package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pes-advisor/internal/models"
)

// ErrMissingField is returned when a passage lacks a required field
var ErrMissingField = errors.New("passage field missing")

const numberPattern = `([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)`

// passageField describes one numeric field of the passage sentence
type passageField struct {
	label string
	unit  string
	re    *regexp.Regexp
	get   func(*models.HistoricalRow) *float64
}

func newField(label, unit string, get func(*models.HistoricalRow) *float64) passageField {
	return passageField{
		label: label,
		unit:  unit,
		re:    regexp.MustCompile(regexp.QuoteMeta(label) + `:\s*` + numberPattern),
		get:   get,
	}
}

// Field order is part of the passage format
var passageFields = []passageField{
	newField("Tire Pressure Front", "PSI", func(r *models.HistoricalRow) *float64 { return &r.TirePressureFront }),
	newField("Tire Pressure Rear", "PSI", func(r *models.HistoricalRow) *float64 { return &r.TirePressureRear }),
	newField("Tire Size Front", "mm", func(r *models.HistoricalRow) *float64 { return &r.TireSizeFront }),
	newField("Tire Size Rear", "mm", func(r *models.HistoricalRow) *float64 { return &r.TireSizeRear }),
	newField("Driver Weight", "kg", func(r *models.HistoricalRow) *float64 { return &r.DriverWeightKG }),
	newField("Coolant Temperature", "°C", func(r *models.HistoricalRow) *float64 { return &r.CoolantTemperatureC }),
}

var (
	coolantTypeRe = regexp.MustCompile(`Coolant Type:\s*([^,]*)`)
	pesRe         = regexp.MustCompile(`PES:\s*` + numberPattern)
)

// FormatPassage serializes a historical row to its passage sentence
func FormatPassage(row models.HistoricalRow) string {
	parts := make([]string, 0, len(passageFields)+2)
	for _, f := range passageFields {
		v := *f.get(&row)
		parts = append(parts, fmt.Sprintf("%s: %s %s", f.label, strconv.FormatFloat(v, 'f', -1, 64), f.unit))
	}
	coolantType := strings.TrimSpace(strings.ReplaceAll(row.CoolantType, ",", " "))
	parts = append(parts,
		fmt.Sprintf("Coolant Type: %s", coolantType),
		fmt.Sprintf("PES: %s", strconv.FormatFloat(row.PES, 'g', -1, 64)),
	)
	return strings.Join(parts, ", ")
}

// ParsePassage extracts a historical row from a passage sentence. All six
// telemetry fields are required; coolant type and PES are optional.
func ParsePassage(text string) (models.HistoricalRow, error) {
	var row models.HistoricalRow

	for _, f := range passageFields {
		m := f.re.FindStringSubmatch(text)
		if m == nil {
			return row, fmt.Errorf("%w: %s", ErrMissingField, f.label)
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return row, fmt.Errorf("%w: %s: %v", ErrMissingField, f.label, err)
		}
		*f.get(&row) = v
	}

	if m := coolantTypeRe.FindStringSubmatch(text); m != nil {
		row.CoolantType = strings.TrimSpace(m[1])
	}
	if m := pesRe.FindStringSubmatch(text); m != nil {
		row.PES, _ = strconv.ParseFloat(m[1], 64)
	}

	return row, nil
}
