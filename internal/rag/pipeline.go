package rag

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pes-advisor/internal/models"
	"pes-advisor/internal/parser"
	"pes-advisor/internal/pes"
)

// ErrNoUsableContext is returned when retrieval yields no passage that can be scored
var ErrNoUsableContext = errors.New("no usable context")

// DefaultTopK is the number of passages retrieved per query
const DefaultTopK = 5

const bootstrapBatchSize = 500

// Logf is the package logger
var Logf func(format string, v ...interface{}) = log.Printf

// Store is the vector index the pipeline reads from and bootstraps
type Store interface {
	Search(ctx context.Context, vector []float64, k int) ([]models.Match, error)
	InsertPassageBatch(ctx context.Context, passages []models.Passage) (int64, error)
	CountPassages(ctx context.Context) (int64, error)
}

// Pipeline answers free-text questions from the historical dataset
type Pipeline struct {
	embedder Embedder
	store    Store
	topK     int
}

// NewPipeline wires a pipeline; topK <= 0 selects DefaultTopK
func NewPipeline(embedder Embedder, store Store, topK int) *Pipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Pipeline{embedder: embedder, store: store, topK: topK}
}

// Bootstrap indexes rows when the store is empty and returns how many
// passages were written. A populated store is left untouched.
func (p *Pipeline) Bootstrap(ctx context.Context, rows []models.HistoricalRow) (int, error) {
	existing, err := p.store.CountPassages(ctx)
	if err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	if existing > 0 {
		Logf("store already holds %d passages, skipping indexing", existing)
		return 0, nil
	}
	return p.Index(ctx, rows)
}

// Index embeds rows and appends them to the store regardless of what it
// already holds
func (p *Pipeline) Index(ctx context.Context, rows []models.HistoricalRow) (int, error) {
	indexed := 0
	batch := make([]models.Passage, 0, bootstrapBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := p.store.InsertPassageBatch(ctx, batch)
		indexed += int(n)
		batch = batch[:0]
		return err
	}

	for _, row := range rows {
		text := parser.FormatPassage(row)
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return indexed, fmt.Errorf("embed passage: %w", err)
		}
		batch = append(batch, models.Passage{Text: text, Row: row, Embedding: vec})
		if len(batch) == bootstrapBatchSize {
			if err := flush(); err != nil {
				return indexed, fmt.Errorf("insert passages: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return indexed, fmt.Errorf("insert passages: %w", err)
	}

	Logf("indexed %d passages", indexed)
	return indexed, nil
}

// Query sanitizes the question, retrieves the closest passage, parses it back
// into a record and scores it. Retrieval misses wrap ErrNoUsableContext.
func (p *Pipeline) Query(ctx context.Context, question string) (*models.RAGResult, error) {
	q := parser.Sanitize(question)
	if q == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoUsableContext)
	}

	vec, err := p.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := p.store.Search(ctx, vec, p.topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no matching passage", ErrNoUsableContext)
	}

	best := matches[0]
	row, err := parser.ParsePassage(best.Passage.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoUsableContext, err)
	}

	// a zero lap time is reported on the analysis, not as a failed query
	analysis, _ := pes.Analyze(row.TelemetryRecord)

	return &models.RAGResult{
		Query:    q,
		Context:  best.Passage.Text,
		Row:      row,
		Score:    best.Score,
		Analysis: analysis,
	}, nil
}
