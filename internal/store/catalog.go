package store

import "dinerec/internal/models"

// Catalog is the read model over the restaurant dataset. Items keep their
// dataset position: ListAll returns them in the same order every time, and
// that order is what the embedding artifacts are keyed by.
type Catalog interface {
	ReplaceAll(items []models.Restaurant) error
	ListAll() ([]models.Restaurant, error)
	Cities() ([]string, error)
	Cuisines() ([]string, error)
	Count() (int, error)
}
