package vectorindex

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
)

// pgIndex answers queries from a Postgres instance with the pgvector
// extension. Selected via DINEREC_VECTOR_PROVIDER=pgvector and
// DINEREC_PGVECTOR_DSN; any setup failure makes the caller degrade to a
// local strategy.
type pgIndex struct {
	db  *sql.DB
	dim int
}

// newPGIndexFromEnv returns (nil, nil) when the provider is not configured,
// and an error when it is configured but cannot be set up.
func newPGIndexFromEnv(vectors [][]float32, ids []string) (*pgIndex, error) {
	if os.Getenv("DINEREC_VECTOR_PROVIDER") != "pgvector" {
		return nil, nil
	}
	dsn := os.Getenv("DINEREC_PGVECTOR_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("pgvector provider selected but DINEREC_PGVECTOR_DSN unset")
	}
	if len(vectors) == 0 || len(ids) != len(vectors) {
		return nil, fmt.Errorf("pgvector: ids/vectors mismatch")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	p := &pgIndex{db: db, dim: len(vectors[0])}
	if err := p.replaceAll(vectors, ids); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *pgIndex) replaceAll(vectors [][]float32, ids []string) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS dinerec_embeddings (
  position  integer PRIMARY KEY,
  item_id   text NOT NULL,
  embedding vector(%d) NOT NULL
);
CREATE INDEX IF NOT EXISTS dinerec_embeddings_cosine_idx
  ON dinerec_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, p.dim)
	if _, err := p.db.Exec(ddl); err != nil {
		return err
	}
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`TRUNCATE dinerec_embeddings`); err != nil {
		return err
	}
	stmt := `INSERT INTO dinerec_embeddings(position, item_id, embedding) VALUES ($1, $2, $3)`
	for pos, vec := range vectors {
		if len(vec) != p.dim {
			return fmt.Errorf("pgvector: dimension mismatch at row %d", pos)
		}
		if _, err := tx.Exec(stmt, pos, ids[pos], pgvector.NewVector(vec)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// query pushes the candidate mask down as a position filter. Scores come
// back as 1 - cosine distance, the same similarity the local strategies
// compute. Secondary order by position keeps ties deterministic.
func (p *pgIndex) query(vec []float32, k int, mask Mask) ([]Hit, error) {
	if len(vec) != p.dim {
		return nil, fmt.Errorf("pgvector: query dimension %d, index %d", len(vec), p.dim)
	}
	q := pgvector.NewVector(vec)
	var rows *sql.Rows
	var err error
	if mask == nil {
		rows, err = p.db.Query(`
SELECT position, 1 - (embedding <=> $1) AS score
FROM dinerec_embeddings
ORDER BY embedding <=> $1, position
LIMIT $2`, q, k)
	} else {
		positions := make([]int64, 0, len(mask))
		for pos := range mask {
			positions = append(positions, int64(pos))
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
		rows, err = p.db.Query(`
SELECT position, 1 - (embedding <=> $1) AS score
FROM dinerec_embeddings
WHERE position = ANY($2)
ORDER BY embedding <=> $1, position
LIMIT $3`, q, pq.Array(positions), k)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Position, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
