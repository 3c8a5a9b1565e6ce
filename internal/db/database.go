package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"pes-advisor/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned when a vector has the wrong length for the store
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Database wraps the SQLite connection holding passages and their embeddings
type Database struct {
	conn *sql.DB
}

// New opens the database and applies migrations
func New(dbPath string) (*Database, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.MigrateUp(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

const passageColumns = `id, text, tire_pressure_front, tire_pressure_rear, tire_size_front, tire_size_rear,
	driver_weight_kg, coolant_temperature_c, coolant_type, pes, embedding, created_at`

// InsertPassageBatch stores passages in one transaction. Passages without an
// ID are assigned a new UUID.
func (db *Database) InsertPassageBatch(ctx context.Context, passages []models.Passage) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages
		(id, text, tire_pressure_front, tire_pressure_rear, tire_size_front, tire_size_rear,
		 driver_weight_kg, coolant_temperature_c, coolant_type, pes, dim, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for i := range passages {
		p := &passages[i]
		if len(p.Embedding) == 0 {
			return count, fmt.Errorf("passage %d: empty embedding", i)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		r := p.Row
		_, err := stmt.ExecContext(ctx,
			p.ID, p.Text, r.TirePressureFront, r.TirePressureRear, r.TireSizeFront, r.TireSizeRear,
			r.DriverWeightKG, r.CoolantTemperatureC, r.CoolantType, r.PES,
			len(p.Embedding), encodeVector(p.Embedding),
		)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPassage(s scanner) (models.Passage, error) {
	var p models.Passage
	var blob []byte
	r := &p.Row
	err := s.Scan(
		&p.ID, &p.Text, &r.TirePressureFront, &r.TirePressureRear, &r.TireSizeFront, &r.TireSizeRear,
		&r.DriverWeightKG, &r.CoolantTemperatureC, &r.CoolantType, &r.PES, &blob, &p.CreatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Embedding, err = decodeVector(blob)
	return p, err
}

// GetPassage retrieves a passage by ID
func (db *Database) GetPassage(ctx context.Context, id string) (*models.Passage, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+passageColumns+` FROM passages WHERE id = ?`, id)
	p, err := scanPassage(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPassages returns passages in insertion order
func (db *Database) ListPassages(ctx context.Context, limit, offset int) ([]models.Passage, error) {
	query := `SELECT ` + passageColumns + ` FROM passages ORDER BY seq`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []models.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// CountPassages returns the number of stored passages
func (db *Database) CountPassages(ctx context.Context) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages").Scan(&count)
	return count, err
}

// Search returns the k passages most similar to vector by cosine similarity,
// best first. Equal scores keep insertion order.
func (db *Database) Search(ctx context.Context, vector []float64, k int) ([]models.Match, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	queryNorm := floats.Norm(vector, 2)

	rows, err := db.conn.QueryContext(ctx, `SELECT `+passageColumns+` FROM passages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		if len(p.Embedding) != len(vector) {
			return nil, fmt.Errorf("%w: store has %d, query has %d", ErrDimensionMismatch, len(p.Embedding), len(vector))
		}
		matches = append(matches, models.Match{Passage: p, Score: cosine(vector, queryNorm, p.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func cosine(a []float64, aNorm float64, b []float64) float64 {
	bNorm := floats.Norm(b, 2)
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return floats.Dot(a, b) / (aNorm * bNorm)
}

// GetStats returns passage store statistics
func (db *Database) GetStats(ctx context.Context) (*models.StoreStats, error) {
	var s models.StoreStats
	var dim sql.NullInt64
	var avg, lo, hi sql.NullFloat64

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(dim), AVG(pes), MIN(pes), MAX(pes) FROM passages`,
	).Scan(&s.TotalPassages, &dim, &avg, &lo, &hi)
	if err != nil {
		return nil, err
	}

	s.EmbeddingDim = int(dim.Int64)
	s.AvgPES = avg.Float64
	s.MinPES = lo.Float64
	s.MaxPES = hi.Float64
	return &s, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("corrupt embedding: %d bytes", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
