package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"pes-advisor/internal/dashboard"
	"pes-advisor/internal/db"
	"pes-advisor/internal/models"
	"pes-advisor/internal/parser"
	"pes-advisor/internal/pes"
	"pes-advisor/internal/rag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Logf = func(string, ...interface{}) {}
	rag.Logf = func(string, ...interface{}) {}
}

const idealBody = `{"TirePressure_Front":22,"TirePressure_Rear":22,"TireSize_Front":305,"TireSize_Rear":305,"DriverWeight_kg":70,"CoolantTemperature_C":90}`

type fakeQuerier struct {
	result *models.RAGResult
	err    error
	got    string
}

func (f *fakeQuerier) Query(ctx context.Context, question string) (*models.RAGResult, error) {
	f.got = question
	return f.result, f.err
}

func do(t *testing.T, s *Server, method, path, body, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewServer(nil, nil), "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestAnalyze(t *testing.T) {
	rec := do(t, NewServer(nil, nil), "POST", "/analyze", idealBody, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out struct {
		EstimatedPES float64  `json:"estimated_pes"`
		Suggestions  []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	r := dashboard.DefaultRecord()
	assert.Equal(t, 1e-6, out.EstimatedPES)
	assert.InDelta(t, pes.ComputeScore(r), out.EstimatedPES, 5e-7)
	assert.Equal(t, pes.SuggestAdjustments(r), out.Suggestions)
}

func TestAnalyzeBadRequest(t *testing.T) {
	s := NewServer(nil, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"TirePressure_Front":`, "invalid JSON"},
		{"missing field", `{"TirePressure_Front":22,"TirePressure_Rear":22,"TireSize_Front":305,"TireSize_Rear":305,"DriverWeight_kg":70}`, "CoolantTemperature_C"},
		{"wrong type", `{"TirePressure_Front":"high"}`, "invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/analyze", tc.body, "application/json")
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp apiResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tc.want)
		})
	}
}

func TestAnalyzeDegradedScore(t *testing.T) {
	body := strings.Replace(idealBody, `"CoolantTemperature_C":90`, `"CoolantTemperature_C":0`, 1)
	rec := do(t, NewServer(nil, nil), "POST", "/analyze", body, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"estimated_pes":0`)
}

func TestOptimalRanges(t *testing.T) {
	rec := do(t, NewServer(nil, nil), "GET", "/optimal-ranges", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"CoolantTemperature_C": {"min": 85, "max": 95},
		"DriverWeight_kg": {"min": 68, "max": 72},
		"TireSize_Front": {"recommended": 305},
		"TireSize_Rear": {"recommended": 305},
		"TirePressure_Average": {"min": 21.5, "max": 22.5}
	}`, rec.Body.String())
}

func TestAnalysisEndpoint(t *testing.T) {
	rec := do(t, NewServer(nil, nil), "POST", "/api/v1/analysis", idealBody, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    models.Analysis `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data.ScoreStatus)
	assert.InDelta(t, pes.CircuitLengthKM, resp.Data.DistanceKM, 1e-12)
	require.NotNil(t, resp.Data.SpeedKPH)
	assert.Len(t, resp.Data.Suggestions, 4)
}

func TestRAGQuery(t *testing.T) {
	q := &fakeQuerier{result: &models.RAGResult{Query: "improve pes", Context: "ctx", Score: 0.9}}
	rec := do(t, NewServer(q, nil), "POST", "/api/v1/rag/query", `{"query":"improve pes"}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "improve pes", q.got)

	var resp struct {
		Success bool             `json:"success"`
		Data    models.RAGResult `json:"data"`
		Meta    *meta            `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ctx", resp.Data.Context)
	assert.Equal(t, 0.9, resp.Data.Score)
}

func TestRAGQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		server *Server
		body   string
		want   int
	}{
		{"not configured", NewServer(nil, nil), `{"query":"x"}`, http.StatusServiceUnavailable},
		{"invalid json", NewServer(&fakeQuerier{}, nil), `{`, http.StatusBadRequest},
		{"no usable context", NewServer(&fakeQuerier{err: fmt.Errorf("%w: no matching passage", rag.ErrNoUsableContext)}, nil), `{"query":"x"}`, http.StatusNotFound},
		{"backend failure", NewServer(&fakeQuerier{err: errors.New("embed query: timeout")}, nil), `{"query":"x"}`, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, tc.server, "POST", "/api/v1/rag/query", tc.body, "application/json")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func newPipeline(t *testing.T) (*rag.Pipeline, *db.Database) {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rows := []models.HistoricalRow{
		{TelemetryRecord: dashboard.DefaultRecord(), CoolantType: "Glycol", PES: 1.2e-6},
		{TelemetryRecord: models.TelemetryRecord{
			TirePressureFront: 21, TirePressureRear: 21.4, TireSizeFront: 315,
			TireSizeRear: 315, DriverWeightKG: 74, CoolantTemperatureC: 97,
		}, CoolantType: "Water", PES: 9.1e-7},
	}
	p := rag.NewPipeline(rag.NewHashEmbedder(rag.DefaultDim), store, 2)
	_, err = p.Bootstrap(context.Background(), rows)
	require.NoError(t, err)
	return p, store
}

func TestRAGQueryEndToEnd(t *testing.T) {
	p, store := newPipeline(t)
	s := NewServer(p, store)

	rec := do(t, s, "POST", "/api/v1/rag/query", `{"query":"Coolant Type: Water, Driver Weight: 74 kg"}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data models.RAGResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, err := parser.ParsePassage(resp.Data.Context)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Data.Analysis.Suggestions)

	rec = do(t, s, "GET", "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Data models.StoreStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Data.TotalPassages)
	assert.Equal(t, rag.DefaultDim, stats.Data.EmbeddingDim)
}

func TestPassages(t *testing.T) {
	_, store := newPipeline(t)
	s := NewServer(nil, store)

	rec := do(t, s, "GET", "/api/v1/passages", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Success bool             `json:"success"`
		Data    []models.Passage `json:"data"`
		Meta    meta             `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "Glycol", list.Data[0].Row.CoolantType)
	assert.Equal(t, "Water", list.Data[1].Row.CoolantType)
	assert.Equal(t, 2, list.Meta.Total)
	assert.Equal(t, 100, list.Meta.Limit)
	assert.NotContains(t, rec.Body.String(), "embedding")

	rec = do(t, s, "GET", "/api/v1/passages?limit=1&offset=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Water", list.Data[0].Row.CoolantType)

	id := list.Data[0].ID
	rec = do(t, s, "GET", "/api/v1/passages/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Data models.Passage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, id, one.Data.ID)
	assert.Equal(t, 74.0, one.Data.Row.DriverWeightKG)

	rec = do(t, s, "GET", "/api/v1/passages/does-not-exist", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "passage not found")
}

func TestPassagesBadPaging(t *testing.T) {
	_, store := newPipeline(t)
	s := NewServer(nil, store)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		rec := do(t, s, "GET", "/api/v1/passages?"+q, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestStatsNotConfigured(t *testing.T) {
	s := NewServer(nil, nil)
	for _, path := range []string{"/api/v1/stats", "/api/v1/passages", "/api/v1/passages/x"} {
		rec := do(t, s, "GET", path, "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestDashboard(t *testing.T) {
	s := NewServer(nil, nil)

	rec := do(t, s, "GET", "/dashboard", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Manual Input")

	form := dashboard.RecordValues(dashboard.DefaultRecord())
	form.Set("CoolantTemperature_C", "100")
	rec = do(t, s, "POST", "/dashboard", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Estimated PES")
	assert.Contains(t, body, "Coolant Temperature is too high")
	assert.Contains(t, body, "/dashboard/chart?")

	form.Set("DriverWeight_kg", "heavy")
	rec = do(t, s, "POST", "/dashboard", form.Encode(), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "DriverWeight_kg must be a number")
}

func TestDashboardChart(t *testing.T) {
	s := NewServer(nil, nil)

	rec := do(t, s, "GET", "/dashboard/chart?"+dashboard.RecordValues(dashboard.DefaultRecord()).Encode(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Comparison Radar Chart")

	rec = do(t, s, "GET", "/dashboard/chart", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	values := dashboard.RecordValues(dashboard.DefaultRecord())
	values.Set("CoolantTemperature_C", "NaN")
	rec = do(t, s, "GET", "/dashboard/chart?"+values.Encode(), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CoolantTemperature_C must be a finite number")

	values.Set("CoolantTemperature_C", "Inf")
	form := values.Encode()
	rec = do(t, s, "POST", "/dashboard", form, "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be a finite number")
}

func TestDashboardAsk(t *testing.T) {
	form := url.Values{"query": {"How to improve PES?"}}

	q := &fakeQuerier{result: &models.RAGResult{
		Context:  "Tire Pressure Front: 22 PSI",
		Score:    0.8,
		Analysis: models.Analysis{Suggestions: []string{"keep going"}},
	}}
	rec := do(t, NewServer(q, nil), "POST", "/dashboard/ask", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Closest Match")
	assert.Contains(t, rec.Body.String(), "keep going")

	q = &fakeQuerier{err: fmt.Errorf("%w: empty query", rag.ErrNoUsableContext)}
	rec = do(t, NewServer(q, nil), "POST", "/dashboard/ask", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no suggestions available")
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, NewServer(nil, nil), "GET", "/analyze", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
