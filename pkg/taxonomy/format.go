package taxonomy

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Output styles understood by Format.
const (
	StyleList    = "list"
	StyleClasses = "classes"
	StyleLinks   = "links"
)

var (
	percentOctet = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	classInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// Formatter renders the terms of an item as HTML-safe strings.
type Formatter struct {
	source       Source
	names        *bluemonday.Policy
	descriptions *bluemonday.Policy
	logger       *slog.Logger
}

// NewFormatter returns a Formatter reading terms from source.
func NewFormatter(source Source) *Formatter {
	return &Formatter{
		source:       source,
		names:        bluemonday.StrictPolicy(),
		descriptions: bluemonday.UGCPolicy(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Formatter. By default, all logs are discarded.
func (f *Formatter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// Terms returns the terms of a taxonomy attached to itemID. An itemID of
// 0 means the current item from ctx.
func (f *Formatter) Terms(ctx context.Context, itemID int64, taxonomy string) ([]Term, error) {
	if itemID == 0 {
		id, ok := ItemFromContext(ctx)
		if !ok {
			return nil, ErrNoItem
		}
		itemID = id
	}
	if taxonomy == "" {
		taxonomy = TaxonomyTag
	}
	terms, err := f.source.TermsFor(ctx, itemID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s terms of item %d: %w", taxonomy, itemID, err)
	}
	return terms, nil
}

// Name returns a term name with all markup removed and the rest escaped.
func (f *Formatter) Name(t Term) string {
	return strings.TrimSpace(f.names.Sanitize(t.Name))
}

// Description returns a term description with unsafe markup removed.
func (f *Formatter) Description(t Term) string {
	return f.descriptions.Sanitize(t.Description)
}

// TagList joins the sanitised term names with sep. sep itself is escaped.
func (f *Formatter) TagList(ctx context.Context, itemID int64, taxonomy, sep string) (string, error) {
	terms, err := f.Terms(ctx, itemID, taxonomy)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(terms))
	for _, t := range terms {
		if name := f.Name(t); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, template.HTMLEscapeString(sep)), nil
}

// ClassList returns one CSS class per term, built from prefix and the term
// slug. Classes contain only letters, digits, underscores and dashes, and
// duplicates are dropped.
func (f *Formatter) ClassList(ctx context.Context, itemID int64, taxonomy, prefix string) (string, error) {
	terms, err := f.Terms(ctx, itemID, taxonomy)
	if err != nil {
		return "", err
	}
	seen := make(map[string]struct{}, len(terms))
	classes := make([]string, 0, len(terms))
	for _, t := range terms {
		class := SanitizeClass(prefix + t.Slug)
		if class == "" {
			continue
		}
		if _, ok := seen[class]; ok {
			continue
		}
		seen[class] = struct{}{}
		classes = append(classes, class)
	}
	return strings.Join(classes, " "), nil
}

// Links returns an anchor per term pointing at baseURL/slug, joined by sep.
func (f *Formatter) Links(ctx context.Context, itemID int64, taxonomy, baseURL, sep string) (string, error) {
	terms, err := f.Terms(ctx, itemID, taxonomy)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(baseURL, "/")
	links := make([]string, 0, len(terms))
	for _, t := range terms {
		name := f.Name(t)
		if name == "" {
			continue
		}
		href := template.HTMLEscapeString(base + "/" + url.PathEscape(t.Slug))
		links = append(links, `<a href="`+href+`" rel="tag">`+name+`</a>`)
	}
	return strings.Join(links, template.HTMLEscapeString(sep)), nil
}

// Format renders the terms in one of the named styles. Links point at
// baseURL; lists and links are joined with ", ".
func (f *Formatter) Format(ctx context.Context, itemID int64, taxonomy, style, baseURL string) (string, error) {
	switch style {
	case "", StyleList:
		return f.TagList(ctx, itemID, taxonomy, ", ")
	case StyleClasses:
		return f.ClassList(ctx, itemID, taxonomy, taxonomyClassPrefix(taxonomy))
	case StyleLinks:
		return f.Links(ctx, itemID, taxonomy, baseURL, ", ")
	default:
		return "", fmt.Errorf("unknown format style '%s'", style)
	}
}

// SanitizeClass reduces s to a valid CSS class name: percent-encoded
// octets are removed, then every character outside A-Z, a-z, 0-9, _ and -.
func SanitizeClass(s string) string {
	s = percentOctet.ReplaceAllString(s, "")
	return classInvalid.ReplaceAllString(s, "")
}

func taxonomyClassPrefix(taxonomy string) string {
	switch taxonomy {
	case "", TaxonomyTag:
		return "tag-"
	default:
		return taxonomy + "-"
	}
}
