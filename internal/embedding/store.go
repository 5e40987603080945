package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"dinerec/internal/llm"
)

const (
	vectorsFile  = "embeddings.bin"
	idsFile      = "ids.json"
	manifestFile = "manifest.json"

	vectorsMagic = uint32(0x44524543) // "DREC"
	batchSize    = 32
)

// GenerationError marks a failure to produce embeddings. Fatal for a build,
// but callers holding a persisted store can keep serving from it.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("embedding generation: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// Store pairs item ids with their vectors. The two slices are index-aligned;
// that ordering is the sole join key between vector rows and item identity.
type Store struct {
	IDs         []string
	Vectors     [][]float32
	Dim         int
	Model       string
	Fingerprint string
}

type manifest struct {
	Count       int    `json:"count"`
	Dim         int    `json:"dim"`
	Model       string `json:"model"`
	Fingerprint string `json:"fingerprint"`
	IDsChecksum string `json:"ids_checksum"`
}

// Fingerprint derives the content fingerprint of a blob sequence. Used to
// detect staleness of persisted vectors relative to the source dataset.
func Fingerprint(blobs []string) string {
	h := sha256.New()
	for _, b := range blobs {
		_, _ = io.WriteString(h, b)
		_, _ = h.Write([]byte{0x1e}) // record separator so adjacent blobs can't collide
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build embeds every blob in order. Batches requests and retries failed
// batches per item once, the same way the indexing pipeline does.
func Build(ctx context.Context, emb llm.Embedder, model string, ids, blobs []string) (*Store, error) {
	if len(ids) != len(blobs) {
		return nil, fmt.Errorf("ids/blobs length mismatch: %d vs %d", len(ids), len(blobs))
	}
	if emb == nil {
		return nil, &GenerationError{Err: fmt.Errorf("no embedder configured")}
	}
	vectors := make([][]float32, 0, len(blobs))
	for i := 0; i < len(blobs); i += batchSize {
		end := i + batchSize
		if end > len(blobs) {
			end = len(blobs)
		}
		batch := blobs[i:end]
		vecs, err := emb.Embeddings(ctx, model, batch)
		if err != nil || len(vecs) != len(batch) {
			// retry per item before giving up
			vecs = vecs[:0]
			for _, text := range batch {
				v, e := emb.Embeddings(ctx, model, []string{text})
				if e != nil || len(v) != 1 {
					if e == nil {
						e = fmt.Errorf("backend returned %d vectors for 1 input", len(v))
					}
					return nil, &GenerationError{Err: e}
				}
				vecs = append(vecs, v[0])
			}
		}
		vectors = append(vectors, vecs...)
	}
	dim := 0
	for i, v := range vectors {
		if i == 0 {
			dim = len(v)
		}
		if len(v) == 0 || len(v) != dim {
			return nil, &GenerationError{Err: fmt.Errorf("inconsistent vector dimension at row %d", i)}
		}
	}
	return &Store{
		IDs:         append([]string(nil), ids...),
		Vectors:     vectors,
		Dim:         dim,
		Model:       model,
		Fingerprint: Fingerprint(blobs),
	}, nil
}

// Stale reports whether the persisted store no longer matches the source
// items, by count or by content fingerprint.
func (s *Store) Stale(blobs []string) bool {
	if s == nil {
		return true
	}
	if len(blobs) != len(s.IDs) {
		return true
	}
	return Fingerprint(blobs) != s.Fingerprint
}

// Persist writes the vector file, the id list, and the manifest. Each
// artifact is staged to a temp file first; renames happen in a fixed order
// with the manifest last, so the manifest only ever commits siblings it
// describes. The manifest carries a checksum of the id list, which Load
// verifies, so a crash between renames can never pair fresh vectors with a
// stale id file.
func (s *Store) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var vb []byte
	vb = binary.LittleEndian.AppendUint32(vb, vectorsMagic)
	vb = binary.LittleEndian.AppendUint32(vb, uint32(s.Dim))
	vb = binary.LittleEndian.AppendUint32(vb, uint32(len(s.Vectors)))
	for _, vec := range s.Vectors {
		for _, f := range vec {
			vb = binary.LittleEndian.AppendUint32(vb, math.Float32bits(f))
		}
	}
	ib, err := json.Marshal(s.IDs)
	if err != nil {
		return err
	}
	mb, err := json.Marshal(manifest{
		Count:       len(s.Vectors),
		Dim:         s.Dim,
		Model:       s.Model,
		Fingerprint: s.Fingerprint,
		IDsChecksum: Fingerprint(s.IDs),
	})
	if err != nil {
		return err
	}
	// stage everything first, then swap; manifest goes last
	stage := []struct {
		name string
		data []byte
	}{{vectorsFile, vb}, {idsFile, ib}, {manifestFile, mb}}
	tmp := make([]string, len(stage))
	for i, a := range stage {
		f, err := os.CreateTemp(dir, a.name+".tmp-*")
		if err != nil {
			return err
		}
		if _, err := f.Write(a.data); err != nil {
			f.Close()
			os.Remove(f.Name())
			return err
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return err
		}
		tmp[i] = f.Name()
	}
	for i, a := range stage {
		if err := os.Rename(tmp[i], filepath.Join(dir, a.name)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a persisted store from dir. A missing, unreadable, or
// inconsistent triple is a cache miss: (nil, nil), never an error.
func Load(dir string) (*Store, error) {
	mb, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, nil
	}
	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, nil
	}
	ib, err := os.ReadFile(filepath.Join(dir, idsFile))
	if err != nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(ib, &ids); err != nil || len(ids) != m.Count {
		return nil, nil
	}
	// the manifest only vouches for the id list it was written with
	if Fingerprint(ids) != m.IDsChecksum {
		return nil, nil
	}
	vb, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, nil
	}
	if len(vb) < 12 {
		return nil, nil
	}
	if binary.LittleEndian.Uint32(vb[0:4]) != vectorsMagic {
		return nil, nil
	}
	dim := int(binary.LittleEndian.Uint32(vb[4:8]))
	count := int(binary.LittleEndian.Uint32(vb[8:12]))
	if dim != m.Dim || count != m.Count || len(vb) != 12+4*dim*count {
		return nil, nil
	}
	vectors := make([][]float32, count)
	off := 12
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(vb[off : off+4]))
			off += 4
		}
		vectors[i] = vec
	}
	return &Store{IDs: ids, Vectors: vectors, Dim: dim, Model: m.Model, Fingerprint: m.Fingerprint}, nil
}
