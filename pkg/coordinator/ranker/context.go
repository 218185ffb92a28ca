package ranker

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
)

var nonWord = regexp.MustCompile(`\W+`)

// ExtractTerms lowercases the text, splits on non-word characters, and
// drops tokens of length 2 or shorter.
func ExtractTerms(text string) []string {
	var terms []string
	for _, tok := range nonWord.Split(strings.ToLower(text), -1) {
		if len(tok) > 2 {
			terms = append(terms, tok)
		}
	}
	return terms
}

// DecodeMetadata parses a metadata JSON blob, returning an empty map on
// any failure. Metadata is advisory; a corrupt blob must not fail a query.
func DecodeMetadata(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]interface{}{}
	}
	return m
}

// DistanceToSimilarity maps a vector distance to the bounded similarity
// 1/(1+d). Negative or non-finite distances map to 0.
func DistanceToSimilarity(d float64) float64 {
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return 1 / (1 + d)
}

// ParseDateTime parses an ISO-8601 timestamp, returning the zero time when
// it cannot.
func ParseDateTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// candidateDate pulls a publication date out of candidate metadata.
func candidateDate(c *Candidate) time.Time {
	for _, key := range []string{"created_at", "date", "published_at"} {
		if v, ok := c.Metadata[key]; ok {
			if s, ok := v.(string); ok {
				if t := ParseDateTime(s); !t.IsZero() {
					return t
				}
			}
		}
	}
	return time.Time{}
}
