package store

import (
	"sort"
	"sync"

	"dinerec/internal/models"
)

// MemStore is an in-memory Catalog used in tests and when no sqlite path is
// configured.
type MemStore struct {
	mu    sync.RWMutex
	items []models.Restaurant
}

func NewMem() *MemStore { return &MemStore{} }

func (m *MemStore) ReplaceAll(items []models.Restaurant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]models.Restaurant(nil), items...)
	return nil
}

func (m *MemStore) ListAll() ([]models.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Restaurant(nil), m.items...), nil
}

func (m *MemStore) Cities() ([]string, error) {
	return m.distinct(func(it models.Restaurant) string { return it.City })
}

func (m *MemStore) Cuisines() ([]string, error) {
	return m.distinct(func(it models.Restaurant) string { return it.Cuisine })
}

func (m *MemStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *MemStore) distinct(key func(models.Restaurant) string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, it := range m.items {
		k := key(it)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
