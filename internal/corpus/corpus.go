package corpus

import "strings"

// Placeholder replaces a blob that normalizes to nothing, so embedding
// never receives empty input.
const Placeholder = "restaurant"

var stopwords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "is", "are",
		"was", "were", "be", "been", "being", "to", "of", "in", "on", "at",
		"for", "with", "from", "by", "as", "this", "that", "these", "those",
		"it", "its", "i", "you", "he", "she", "we", "they", "them", "his",
		"her", "their", "our", "your", "my", "me", "us", "do", "does", "did",
		"have", "has", "had", "not", "no", "so", "too", "very", "can",
		"will", "just", "about", "into", "over", "under", "again", "more",
		"most", "some", "such", "only", "own", "same", "than", "there",
		"here", "when", "where", "why", "how", "what", "which", "who",
		"whom", "am", "all", "any", "both", "each", "few", "other", "nor",
		"while", "during", "before", "after", "above", "below", "between",
		"through", "once", "because", "until", "against", "further", "up",
		"down", "out", "off", "now",
	}
	for _, w := range words {
		stopwords[w] = struct{}{}
	}
}

// Clean lowercases text, drops everything but letters and spaces, and
// collapses runs of whitespace. Deterministic, no side effects.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || r == ' ' || r == '\t' || r == '\n' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// RemoveStopwords drops common English stopwords from already-cleaned text.
func RemoveStopwords(text string) string {
	if text == "" {
		return ""
	}
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, w := range fields {
		if _, ok := stopwords[w]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Combine normalizes the item's text fields and joins them in fixed order
// with a sentence boundary between fields. Missing fields contribute
// nothing. An all-empty result yields Placeholder.
func Combine(name, cuisine, description, reviews string) string {
	parts := make([]string, 0, 4)
	for _, f := range []string{name, cuisine, description, reviews} {
		cleaned := RemoveStopwords(Clean(f))
		if cleaned != "" {
			parts = append(parts, cleaned)
		}
	}
	if len(parts) == 0 {
		return Placeholder
	}
	return strings.Join(parts, ". ")
}
