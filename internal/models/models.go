package models

// Restaurant is one row of the source dataset after normalization.
// Optional numeric fields carry an explicit presence flag instead of a
// sentinel value.
type Restaurant struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	Cuisine     string  `json:"cuisine"`
	Rating      float64 `json:"rating"`
	HasRating   bool    `json:"hasRating"`
	Description string  `json:"description,omitempty"`
	Reviews     string  `json:"-"`
	Address     string  `json:"address,omitempty"`
	Locality    string  `json:"locality,omitempty"`
	PriceRange  int     `json:"priceRange,omitempty"`
	AvgCost     float64 `json:"avgCost,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Votes       int     `json:"votes,omitempty"`
	TextBlob    string  `json:"-"`
}

// Recommendation is one ranked result returned to the UI collaborator.
// Score is cosine similarity in [-1, 1]; higher is better.
type Recommendation struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	Cuisine     string  `json:"cuisine"`
	Rating      float64 `json:"rating"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
	Summary     string  `json:"summary,omitempty"`
}
