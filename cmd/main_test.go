package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"pes-advisor/internal/db"
	"pes-advisor/internal/parser"
	"pes-advisor/internal/pes"
	"pes-advisor/internal/rag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	rag.Logf = func(string, ...interface{}) {}
}

const ingestCSV = `TirePressure_Front,TirePressure_Rear,TireSize_Front,TireSize_Rear,DriverWeight_kg,CoolantTemperature_C,CoolantType,PES
22,22,305,305,70,90,Glycol,1e-06
21.5,22.5,315,305,72,Inf,Water,0
21,21.4,315,315,74,97,Water,9.1e-07
`

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := db.New(filepath.Join(dir, "cli.db"))
	require.NoError(t, err)
	defer store.Close()

	file := filepath.Join(dir, "lemans.csv")
	require.NoError(t, os.WriteFile(file, []byte(ingestCSV), 0o600))

	p := rag.NewPipeline(rag.NewHashEmbedder(64), store, 3)

	n, skipped, err := ingestFiles(ctx, p, "csv", true, false, []string{file})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, skipped)

	// a populated store is not re-indexed without append
	n, _, err = ingestFiles(ctx, p, "csv", true, false, []string{file})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, _, err = ingestFiles(ctx, p, "csv", true, true, []string{file})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := store.CountPassages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	_, _, err = ingestFiles(ctx, p, "csv", true, true, []string{filepath.Join(dir, "missing.csv")})
	assert.Error(t, err)
}

func TestGenerateRows(t *testing.T) {
	rows := generateRows(rand.New(rand.NewSource(7)), 50)
	require.Len(t, rows, 50)

	for _, r := range rows {
		assert.Empty(t, parser.ValidateRecord(r.TelemetryRecord))
		assert.Equal(t, pes.ComputeScore(r.TelemetryRecord), r.PES)
		assert.Contains(t, coolantTypes, r.CoolantType)
		assert.False(t, math.IsNaN(r.PES))

		back, err := parser.ParsePassage(parser.FormatPassage(r))
		require.NoError(t, err)
		assert.Equal(t, r.TelemetryRecord, back.TelemetryRecord)
	}

	again := generateRows(rand.New(rand.NewSource(7)), 50)
	assert.Equal(t, rows, again)
}
