package summary

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"dinerec/internal/models"
)

var priceTiers = map[int]string{
	1: "budget-friendly",
	2: "casual dining",
	3: "upscale",
	4: "fine dining",
	5: "luxury",
}

var parenSymbol = regexp.MustCompile(`\(([^)]+)\)`)

// CurrencySymbol maps dataset currency names to display symbols. Values like
// "Botswana Pula(P)" carry their symbol in parentheses.
func CurrencySymbol(curr string) string {
	if curr == "" {
		return ""
	}
	c := strings.ToLower(curr)
	switch {
	case strings.Contains(c, "rupee") || strings.Contains(c, "rs.") || strings.Contains(c, "rs"):
		return "₹"
	case strings.Contains(c, "pula"):
		return "P"
	case strings.Contains(c, "dollar") || strings.Contains(c, "usd"):
		return "$"
	case strings.Contains(c, "euro"):
		return "€"
	case strings.Contains(c, "pound") || strings.Contains(c, "gbp"):
		return "£"
	}
	if m := parenSymbol.FindStringSubmatch(curr); m != nil {
		return m[1]
	}
	return curr
}

func priceDescription(priceRange int, avgCost float64, currency string) string {
	desc, ok := priceTiers[priceRange]
	if !ok {
		desc = "moderately priced"
	}
	if avgCost > 0 {
		cost := humanize.Comma(int64(avgCost))
		if sym := CurrencySymbol(currency); sym != "" {
			return fmt.Sprintf("%s (average %s %s for two)", desc, sym, cost)
		}
		return fmt.Sprintf("%s (average %s for two)", desc, cost)
	}
	return desc
}

// RatingDescription words a numeric rating for display.
func RatingDescription(rating float64) string {
	switch {
	case rating >= 4.5:
		return "highly-rated"
	case rating >= 4.0:
		return "well-rated"
	case rating >= 3.5:
		return "decently rated"
	default:
		return "rated"
	}
}

// formatCuisine turns a comma-separated cuisine list into prose.
func formatCuisine(cuisine string) string {
	if !strings.Contains(cuisine, ",") {
		return cuisine
	}
	parts := strings.Split(cuisine, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) == 2:
		return parts[0] + " and " + parts[1]
	case len(parts) > 2:
		return parts[0] + ", " + parts[1] + " and " + parts[2]
	}
	return cuisine
}

// Generate produces a short display summary for one restaurant.
func Generate(it models.Restaurant) string {
	cuisine := it.Cuisine
	if cuisine == "" {
		cuisine = "Various"
	}
	price := priceDescription(it.PriceRange, it.AvgCost, it.Currency)
	ratingText := "Not yet rated"
	if it.HasRating && it.Rating > 0 {
		ratingText = fmt.Sprintf("%.1f/5", it.Rating)
	}
	location := ""
	if it.Locality != "" && it.Address != "" {
		location = fmt.Sprintf(", situated in %s", it.Locality)
	}
	s := fmt.Sprintf("%s is a %s %s restaurant%s. It has a rating of %s.",
		it.Name, price, formatCuisine(cuisine), location, ratingText)
	if it.Address != "" && !strings.HasPrefix(it.Address, it.Locality) {
		s += fmt.Sprintf(" You can find it at %s.", it.Address)
	}
	return s
}
