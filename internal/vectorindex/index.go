package vectorindex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"dinerec/internal/log"
)

// Strategy identifies how queries are answered. Selected once at build time
// and stored as data; Query dispatches on it.
type Strategy string

const (
	StrategyFlat     Strategy = "flat"
	StrategyLinear   Strategy = "linear"
	StrategyPGVector Strategy = "pgvector"
)

const (
	markerFile = "index.json"
	flatFile   = "index.bin"

	flatMagic = uint32(0x44495846) // "DIXF"
)

// Hit is one nearest-neighbor result: the item's position in the embedding
// store order, and its cosine similarity to the query.
type Hit struct {
	Position int
	Score    float64
}

// Mask restricts a query to a subset of item positions. nil means all.
type Mask map[int]struct{}

// NewMask builds a mask from positions.
func NewMask(positions []int) Mask {
	m := make(Mask, len(positions))
	for _, p := range positions {
		m[p] = struct{}{}
	}
	return m
}

// Index answers nearest-neighbor queries over a fixed vector set. Read-only
// after construction; a rebuild is a full replace.
type Index struct {
	strategy   Strategy
	dim        int
	raw        [][]float32 // always kept; linear scan operand and pg fallback
	normalized [][]float32 // flat strategy operand
	pg         *pgIndex
	lg         *log.Logger
}

// Build constructs an index over vectors. The pgvector backend is tried
// first when configured, then the flat strategy; any construction failure
// degrades silently (logged) to the next strategy. A nil return means no
// backend could be built at all (empty vector set).
func Build(vectors [][]float32, ids []string, lg *log.Logger) *Index {
	if lg == nil {
		lg = log.New()
	}
	if len(vectors) == 0 {
		return nil
	}
	ix := &Index{raw: vectors, dim: len(vectors[0]), lg: lg}
	if pg, err := newPGIndexFromEnv(vectors, ids); err == nil && pg != nil {
		ix.strategy = StrategyPGVector
		ix.pg = pg
		lg.Info("index.build", "strategy", string(StrategyPGVector), "items", len(vectors))
		return ix
	} else if err != nil {
		lg.Warn("index.pgvector_unavailable", "err", err.Error())
	}
	if norm, err := normalize(vectors); err == nil {
		ix.strategy = StrategyFlat
		ix.normalized = norm
		lg.Info("index.build", "strategy", string(StrategyFlat), "items", len(vectors))
		return ix
	} else {
		lg.Warn("index.flat_failed", "err", err.Error())
	}
	ix.strategy = StrategyLinear
	lg.Info("index.build", "strategy", string(StrategyLinear), "items", len(vectors))
	return ix
}

// Strategy reports which variant answers queries.
func (ix *Index) Strategy() Strategy { return ix.strategy }

// Query returns up to k positions ordered by descending cosine similarity,
// ties broken by ascending position. Both strategies compute the same
// similarity definition, so results are comparable across them.
func (ix *Index) Query(vec []float32, k int, mask Mask) ([]Hit, error) {
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}
	switch ix.strategy {
	case StrategyPGVector:
		hits, err := ix.pg.query(vec, k, mask)
		if err == nil {
			return hits, nil
		}
		// degrade to an exact local scan rather than fail the query
		ix.lg.Warn("index.pgvector_query_failed", "err", err.Error())
		return ix.scan(vec, k, mask, ix.raw, cosine), nil
	case StrategyFlat:
		q := unit(vec)
		return ix.scan(q, k, mask, ix.normalized, dot), nil
	default:
		return ix.scan(vec, k, mask, ix.raw, cosine), nil
	}
}

func (ix *Index) scan(vec []float32, k int, mask Mask, rows [][]float32, score func(a, b []float32) float64) []Hit {
	hits := make([]Hit, 0, len(rows))
	for pos, row := range rows {
		if mask != nil {
			if _, ok := mask[pos]; !ok {
				continue
			}
		}
		if len(row) != len(vec) {
			continue
		}
		hits = append(hits, Hit{Position: pos, Score: score(vec, row)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

type marker struct {
	Strategy Strategy `json:"strategy"`
	Count    int      `json:"count"`
	Dim      int      `json:"dim"`
}

// Save persists the index next to the embedding artifacts. The flat variant
// writes its normalized matrix; the others only record which strategy to
// force on the next load.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	mb, err := json.Marshal(marker{Strategy: ix.strategy, Count: len(ix.raw), Dim: ix.dim})
	if err != nil {
		return err
	}
	if err := writeAtomic(dir, markerFile, mb); err != nil {
		return err
	}
	if ix.strategy != StrategyFlat {
		// nothing structural to persist
		os.Remove(filepath.Join(dir, flatFile))
		return nil
	}
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, flatMagic)
	b = binary.LittleEndian.AppendUint32(b, uint32(ix.dim))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(ix.normalized)))
	for _, row := range ix.normalized {
		for _, f := range row {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
	}
	return writeAtomic(dir, flatFile, b)
}

// Load restores a persisted index over the given vectors, or returns nil
// when nothing consistent is persisted (the caller rebuilds). A linear or
// pgvector marker forces that strategy without structural state; the
// pgvector backend is re-dialed and degrades to linear when unreachable.
func Load(dir string, vectors [][]float32, ids []string, lg *log.Logger) *Index {
	if lg == nil {
		lg = log.New()
	}
	if len(vectors) == 0 {
		return nil
	}
	mb, err := os.ReadFile(filepath.Join(dir, markerFile))
	if err != nil {
		return nil
	}
	var m marker
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil
	}
	if m.Count != len(vectors) || m.Dim != len(vectors[0]) {
		return nil
	}
	ix := &Index{raw: vectors, dim: m.Dim, lg: lg}
	switch m.Strategy {
	case StrategyFlat:
		norm, ok := readFlat(filepath.Join(dir, flatFile), m.Dim, m.Count)
		if !ok {
			return nil
		}
		ix.strategy = StrategyFlat
		ix.normalized = norm
	case StrategyPGVector:
		if pg, err := newPGIndexFromEnv(vectors, ids); err == nil && pg != nil {
			ix.strategy = StrategyPGVector
			ix.pg = pg
		} else {
			if err != nil {
				lg.Warn("index.pgvector_unavailable", "err", err.Error())
			}
			ix.strategy = StrategyLinear
		}
	case StrategyLinear:
		ix.strategy = StrategyLinear
	default:
		return nil
	}
	lg.Info("index.load", "strategy", string(ix.strategy), "items", len(vectors))
	return ix
}

func readFlat(path string, dim, count int) ([][]float32, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if len(b) != 12+4*dim*count {
		return nil, false
	}
	if binary.LittleEndian.Uint32(b[0:4]) != flatMagic {
		return nil, false
	}
	if int(binary.LittleEndian.Uint32(b[4:8])) != dim || int(binary.LittleEndian.Uint32(b[8:12])) != count {
		return nil, false
	}
	rows := make([][]float32, count)
	off := 12
	for i := 0; i < count; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
			off += 4
		}
		rows[i] = row
	}
	return rows, true
}

func writeAtomic(dir, name string, data []byte) error {
	f, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), filepath.Join(dir, name))
}

// normalize unit-scales every row so inner product equals cosine. Fails on
// ragged dimensions or an empty set; zero vectors stay zero.
func normalize(vectors [][]float32) ([][]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty vector set")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("zero-dimensional vectors")
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("dimension mismatch at row %d: %d vs %d", i, len(v), dim)
		}
		out[i] = unit(v)
	}
	return out, nil
}

func unit(v []float32) []float32 {
	var n float64
	for _, f := range v {
		n += float64(f) * float64(f)
	}
	if n == 0 {
		return append([]float32(nil), v...)
	}
	inv := 1 / math.Sqrt(n)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32) float64 {
	var dotp, na, nb float64
	for i := range a {
		dotp += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dotp / (math.Sqrt(na) * math.Sqrt(nb))
}
