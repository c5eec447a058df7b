// Package pool provides SQLite-backed persistence for genomes between
// runs: finished runs deposit their best survivors, and new runs draw
// seed genomes from the accumulated pool.
package pool

import (
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS genomes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	lineage   TEXT NOT NULL,
	genome    BLOB NOT NULL,
	fitness   REAL NOT NULL,
	stored_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_genomes_fitness ON genomes(fitness DESC);
`

// Entry is one pooled genome.
type Entry struct {
	Lineage uuid.UUID
	Genome  []byte
	Fitness float64
}

// Store provides SQLite-backed persistence for the genome pool.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a pool store at the provided path, creating the schema if
// needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("pool path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Put stores one genome with its lineage and fitness score.
func (s *Store) Put(e Entry) error {
	_, err := s.sqlDB.Exec(
		`INSERT INTO genomes (lineage, genome, fitness, stored_at) VALUES (?, ?, ?, ?)`,
		e.Lineage.String(), e.Genome, e.Fitness, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert genome: %w", err)
	}
	return nil
}

// TopK returns the k highest-fitness entries, best first.
func (s *Store) TopK(k int) ([]Entry, error) {
	rows, err := s.sqlDB.Query(
		`SELECT lineage, genome, fitness FROM genomes ORDER BY fitness DESC, id ASC LIMIT ?`, k,
	)
	if err != nil {
		return nil, fmt.Errorf("query top genomes: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Sample draws up to n entries, biased toward the fittest: it pulls the
// top 4n candidates and picks n of them with the caller's rng.
func (s *Store) Sample(rng *rand.Rand, n int) ([]Entry, error) {
	candidates, err := s.TopK(n * 4)
	if err != nil {
		return nil, err
	}
	if len(candidates) <= n {
		return candidates, nil
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:n], nil
}

// Count returns the number of pooled genomes.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM genomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count genomes: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			lin string
		)
		if err := rows.Scan(&lin, &e.Genome, &e.Fitness); err != nil {
			return nil, fmt.Errorf("scan genome row: %w", err)
		}
		id, err := uuid.Parse(lin)
		if err != nil {
			return nil, fmt.Errorf("parse lineage %q: %w", lin, err)
		}
		e.Lineage = id
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate genome rows: %w", err)
	}
	return out, nil
}
