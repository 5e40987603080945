package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"dinerec/internal/models"
	sqlm "dinerec/internal/storage/sqlite"
)

// SQLiteStore persists the restaurant catalog in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for internal helpers. Use sparingly.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ReplaceAll swaps in a new dataset as a whole: positions restart at 0 in
// input order. Runs in one transaction so readers never see a partial set.
func (s *SQLiteStore) ReplaceAll(items []models.Restaurant) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM restaurants`); err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339)
	stmt := `INSERT INTO restaurants(position,id,name,city,cuisine,rating,has_rating,description,reviews,address,locality,price_range,avg_cost,currency,votes,text_blob,created_at)
             VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	for pos, it := range items {
		hasRating := 0
		if it.HasRating {
			hasRating = 1
		}
		if _, err := tx.Exec(stmt, pos, it.ID, it.Name, it.City, it.Cuisine, it.Rating, hasRating,
			it.Description, it.Reviews, it.Address, it.Locality, it.PriceRange, it.AvgCost,
			it.Currency, it.Votes, it.TextBlob, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListAll() ([]models.Restaurant, error) {
	rows, err := s.db.Query(`SELECT id,name,city,cuisine,rating,has_rating,description,reviews,address,locality,price_range,avg_cost,currency,votes,text_blob
        FROM restaurants ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Restaurant
	for rows.Next() {
		var it models.Restaurant
		var hasRating int
		if err := rows.Scan(&it.ID, &it.Name, &it.City, &it.Cuisine, &it.Rating, &hasRating,
			&it.Description, &it.Reviews, &it.Address, &it.Locality, &it.PriceRange, &it.AvgCost,
			&it.Currency, &it.Votes, &it.TextBlob); err != nil {
			return nil, err
		}
		it.HasRating = hasRating != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Cities() ([]string, error) {
	return s.distinct(`SELECT DISTINCT city FROM restaurants WHERE city != '' ORDER BY city`)
}

func (s *SQLiteStore) Cuisines() ([]string, error) {
	return s.distinct(`SELECT DISTINCT cuisine FROM restaurants WHERE cuisine != '' ORDER BY cuisine`)
}

func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM restaurants`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) distinct(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
