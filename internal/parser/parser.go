package parser

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"pes-advisor/internal/models"
)

// Logf reports skipped lines. Tests may replace it.
var Logf = func(format string, v ...interface{}) {
	fmt.Printf(format+"\n", v...)
}

// Parser handles parsing of historical dataset files
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// ParseFile parses a historical dataset file
func (p *Parser) ParseFile(filename string) ([]models.HistoricalRow, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses historical rows from r in the parser's format
func (p *Parser) Parse(r io.Reader) ([]models.HistoricalRow, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses the dataset CSV; columns are matched by header name
func (p *Parser) parseCSV(r io.Reader) ([]models.HistoricalRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []models.HistoricalRow
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		row, err := p.recordToRow(record, indices)
		if err != nil {
			Logf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, row)
	}

	return results, nil
}

// recordToRow converts a CSV record to a HistoricalRow
func (p *Parser) recordToRow(record []string, indices map[string]int) (models.HistoricalRow, error) {
	var row models.HistoricalRow

	getValue := func(key string) (string, bool) {
		if idx, ok := indices[strings.ToLower(key)]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx]), true
		}
		return "", false
	}

	required := []struct {
		key string
		dst *float64
	}{
		{"TirePressure_Front", &row.TirePressureFront},
		{"TirePressure_Rear", &row.TirePressureRear},
		{"TireSize_Front", &row.TireSizeFront},
		{"TireSize_Rear", &row.TireSizeRear},
		{"DriverWeight_kg", &row.DriverWeightKG},
		{"CoolantTemperature_C", &row.CoolantTemperatureC},
	}
	for _, f := range required {
		s, ok := getValue(f.key)
		if !ok || s == "" {
			return row, fmt.Errorf("missing %s", f.key)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return row, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}

	row.CoolantType, _ = getValue("CoolantType")
	if s, ok := getValue("PES"); ok && s != "" {
		row.PES, _ = strconv.ParseFloat(s, 64)
	}

	return row, nil
}

// parseJSON parses a JSON array of rows, falling back to JSON lines
func (p *Parser) parseJSON(r io.Reader) ([]models.HistoricalRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []models.HistoricalRow
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(strings.NewReader(string(data)))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.HistoricalRow, error) {
	var results []models.HistoricalRow
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		line = strings.TrimSuffix(line, ",")

		var row models.HistoricalRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			Logf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, row)
	}

	return results, scanner.Err()
}

// WriteCSV writes rows in the dataset CSV layout
func WriteCSV(w io.Writer, rows []models.HistoricalRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"TirePressure_Front", "TirePressure_Rear", "TireSize_Front", "TireSize_Rear",
		"DriverWeight_kg", "CoolantTemperature_C", "CoolantType", "PES",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			f(r.TirePressureFront), f(r.TirePressureRear), f(r.TireSizeFront), f(r.TireSizeRear),
			f(r.DriverWeightKG), f(r.CoolantTemperatureC), r.CoolantType,
			strconv.FormatFloat(r.PES, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ValidateRecord validates a telemetry record against the field domains
func ValidateRecord(r models.TelemetryRecord) []string {
	var errors []string

	fields := []struct {
		name     string
		v        float64
		positive bool
	}{
		{"TirePressure_Front", r.TirePressureFront, true},
		{"TirePressure_Rear", r.TirePressureRear, true},
		{"TireSize_Front", r.TireSizeFront, true},
		{"TireSize_Rear", r.TireSizeRear, true},
		{"DriverWeight_kg", r.DriverWeightKG, true},
		{"CoolantTemperature_C", r.CoolantTemperatureC, false},
	}
	for _, f := range fields {
		switch {
		case math.IsNaN(f.v) || math.IsInf(f.v, 0):
			errors = append(errors, fmt.Sprintf("%s must be a finite number", f.name))
		case f.positive && f.v <= 0:
			errors = append(errors, fmt.Sprintf("%s must be greater than 0", f.name))
		case !f.positive && f.v == 0:
			errors = append(errors, fmt.Sprintf("%s must not be 0", f.name))
		}
	}

	return errors
}
