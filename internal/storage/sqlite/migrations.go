package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Manager handles schema versioning for the catalog database.
type Manager struct{}

const latestVersion = 1

func (m Manager) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	// initialize row if empty
	var cnt int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

func (m Manager) version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m Manager) setVersion(ctx context.Context, db *sql.DB, v int) error {
	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v)
	return err
}

// UpToLatest applies migrations to reach latestVersion.
func (m Manager) UpToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := m.setVersion(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

func (m Manager) up(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 1:
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS restaurants (
                position INTEGER PRIMARY KEY,
                id TEXT NOT NULL,
                name TEXT NOT NULL,
                city TEXT NOT NULL,
                cuisine TEXT NOT NULL,
                rating REAL,
                has_rating INTEGER DEFAULT 0,
                description TEXT,
                reviews TEXT,
                address TEXT,
                locality TEXT,
                price_range INTEGER,
                avg_cost REAL,
                currency TEXT,
                votes INTEGER,
                text_blob TEXT NOT NULL,
                created_at TEXT NOT NULL
            );`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_restaurants_id ON restaurants(id);`,
			`CREATE INDEX IF NOT EXISTS idx_restaurants_city_cuisine ON restaurants(city, cuisine);`,
		}
		for i, s := range stmts {
			if _, err := db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("v1 step %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}
