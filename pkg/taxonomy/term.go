package taxonomy

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// TaxonomyTag is the taxonomy used for free-form tags.
	TaxonomyTag = "post_tag"
	// TaxonomyCategory is the hierarchical category taxonomy.
	TaxonomyCategory = "category"
)

var (
	// ErrTermNotFound is returned when a term ID or slug does not exist.
	ErrTermNotFound = errors.New("taxonomy: term not found")
	// ErrNoItem is returned when no item ID was given and none is set on the context.
	ErrNoItem = errors.New("taxonomy: no current item")
)

// Term is a single entry of a taxonomy. Count is the number of items the
// term is assigned to.
type Term struct {
	ID          int64  `json:"id"`
	Taxonomy    string `json:"taxonomy"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Count       int    `json:"count"`
}

// Source returns the terms of one taxonomy attached to an item, in
// assignment order.
type Source interface {
	TermsFor(ctx context.Context, itemID int64, taxonomy string) ([]Term, error)
}

type contextKey string

const contextKeyItem = contextKey("item")

// WithItem returns a context carrying the current item ID.
func WithItem(ctx context.Context, itemID int64) context.Context {
	return context.WithValue(ctx, contextKeyItem, itemID)
}

// ItemFromContext returns the current item ID set by WithItem.
func ItemFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextKeyItem).(int64)
	return id, ok && id != 0
}

// Slugify turns a term name into a URL slug: accents are stripped, letters
// lowercased, and every run of other characters becomes a single dash.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
