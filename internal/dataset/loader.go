package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"dinerec/internal/corpus"
	"dinerec/internal/models"
)

// DefaultCuisine is assigned when a row has no usable cuisine value.
const DefaultCuisine = "International"

// SchemaError reports required columns missing from the dataset header.
// It is fatal: no recovery is attempted.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dataset missing required columns: %s", strings.Join(e.Missing, ", "))
}

// required columns after header normalization and aliasing.
var required = []string{"name", "city", "cuisine"}

// header aliases observed across dataset exports.
var aliases = map[string]string{
	"restaurant_name":  "name",
	"restaurant":       "name",
	"cuisines":         "cuisine",
	"aggregate_rating": "rating",
}

// Load reads and normalizes the dataset CSV at path.
func Load(path string) ([]models.Restaurant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads CSV rows from r and returns normalized restaurants in file
// order. Row position in the returned slice is the stable identity used by
// the embedding artifacts.
func Parse(r io.Reader) ([]models.Restaurant, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := normalizeHeader(h)
		if alias, ok := aliases[name]; ok {
			// first occurrence wins; don't clobber a real column
			if _, exists := cols[alias]; !exists {
				name = alias
			}
		}
		if _, exists := cols[name]; !exists {
			cols[name] = i
		}
	}
	var missing []string
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	get := func(row []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var items []models.Restaurant
	var ratingSum float64
	var ratingN int
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		it := models.Restaurant{
			ID:          strconv.Itoa(len(items)),
			Name:        get(row, "name"),
			City:        titleCase(get(row, "city")),
			Cuisine:     firstCuisine(get(row, "cuisine")),
			Description: get(row, "description"),
			Reviews:     get(row, "reviews"),
			Address:     get(row, "address"),
			Locality:    get(row, "locality"),
			Currency:    get(row, "currency"),
		}
		if v, err := strconv.ParseFloat(get(row, "rating"), 64); err == nil {
			it.Rating = v
			it.HasRating = true
			ratingSum += v
			ratingN++
		}
		if v, err := strconv.Atoi(get(row, "price_range")); err == nil {
			it.PriceRange = v
		}
		if v, err := strconv.ParseFloat(get(row, "average_cost_for_two"), 64); err == nil {
			it.AvgCost = v
		} else if v, err := strconv.ParseFloat(get(row, "avg_cost"), 64); err == nil {
			it.AvgCost = v
		}
		if v, err := strconv.Atoi(get(row, "votes")); err == nil {
			it.Votes = v
		}
		it.TextBlob = corpus.Combine(it.Name, it.Cuisine, it.Description, it.Reviews)
		items = append(items, it)
	}
	// impute missing ratings with the dataset mean
	if ratingN > 0 {
		mean := ratingSum / float64(ratingN)
		for i := range items {
			if !items[i].HasRating {
				items[i].Rating = mean
			}
		}
	}
	return items, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

// firstCuisine keeps the first entry of a comma-separated cuisine list.
func firstCuisine(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCuisine
	}
	return s
}

func titleCase(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + f[size:]
	}
	return strings.Join(fields, " ")
}
