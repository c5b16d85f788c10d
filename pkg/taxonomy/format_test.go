package taxonomy

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
)

func newTestFormatter() *Formatter {
	return NewFormatter(staticSource{
		1: {
			{ID: 1, Taxonomy: TaxonomyTag, Name: "<b>News</b> & Views", Slug: "news-views"},
			{ID: 2, Taxonomy: TaxonomyTag, Name: "Go", Slug: "go"},
			{ID: 3, Taxonomy: TaxonomyTag, Name: "<script>alert(1)</script>", Slug: "xss"},
			{ID: 4, Taxonomy: TaxonomyCategory, Name: "Engineering", Slug: "engineering"},
		},
		2: {
			{ID: 5, Taxonomy: TaxonomyTag, Name: "Odd", Slug: "odd%20slug\"><x"},
			{ID: 6, Taxonomy: TaxonomyTag, Name: "Odd again", Slug: "odd%20slugx"},
		},
	})
}

func TestTagListEscapes(t *testing.T) {
	f := newTestFormatter()
	got, err := f.TagList(context.Background(), 1, TaxonomyTag, " <|> ")
	if err != nil {
		t.Fatalf("TagList failed: %v", err)
	}
	want := "News &amp; Views &lt;|&gt; Go"
	if got != want {
		t.Errorf("TagList() = %q, want %q", got, want)
	}
	if strings.Contains(got, "<") {
		t.Errorf("TagList() output contains raw markup: %q", got)
	}
}

func TestTagListUsesContextItem(t *testing.T) {
	f := newTestFormatter()

	if _, err := f.TagList(context.Background(), 0, TaxonomyTag, ", "); !errors.Is(err, ErrNoItem) {
		t.Errorf("TagList() without item error = %v, want ErrNoItem", err)
	}

	ctx := WithItem(context.Background(), 1)
	got, err := f.TagList(ctx, 0, TaxonomyCategory, ", ")
	if err != nil {
		t.Fatalf("TagList failed: %v", err)
	}
	if got != "Engineering" {
		t.Errorf("TagList() = %q, want %q", got, "Engineering")
	}
}

func TestClassList(t *testing.T) {
	f := newTestFormatter()
	valid := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	got, err := f.ClassList(context.Background(), 1, TaxonomyTag, "tag-")
	if err != nil {
		t.Fatalf("ClassList failed: %v", err)
	}
	if want := "tag-news-views tag-go tag-xss"; got != want {
		t.Errorf("ClassList() = %q, want %q", got, want)
	}

	got, _ = f.ClassList(context.Background(), 2, TaxonomyTag, "tag-")
	if want := "tag-oddslugx"; got != want {
		t.Errorf("ClassList() = %q, want %q", got, want)
	}
	for _, class := range strings.Fields(got) {
		if !valid.MatchString(class) {
			t.Errorf("class %q contains invalid characters", class)
		}
	}
}

func TestLinks(t *testing.T) {
	f := newTestFormatter()
	got, err := f.Links(context.Background(), 1, TaxonomyTag, "/tag/", ", ")
	if err != nil {
		t.Fatalf("Links failed: %v", err)
	}
	want := `<a href="/tag/news-views" rel="tag">News &amp; Views</a>, <a href="/tag/go" rel="tag">Go</a>`
	if got != want {
		t.Errorf("Links() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatStyles(t *testing.T) {
	f := newTestFormatter()
	ctx := context.Background()

	tests := []struct {
		style string
		want  string
	}{
		{"", "News &amp; Views, Go"},
		{StyleList, "News &amp; Views, Go"},
		{StyleClasses, "tag-news-views tag-go tag-xss"},
		{StyleLinks, `<a href="/t/news-views" rel="tag">News &amp; Views</a>, <a href="/t/go" rel="tag">Go</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			got, err := f.Format(ctx, 1, TaxonomyTag, tt.style, "/t")
			if err != nil {
				t.Fatalf("Format failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.style, got, tt.want)
			}
		})
	}

	if _, err := f.Format(ctx, 1, TaxonomyTag, "bogus", ""); err == nil {
		t.Error("expected an error for an unknown style")
	}
}

func TestDescriptionSanitised(t *testing.T) {
	f := newTestFormatter()
	got := f.Description(Term{Description: `<p onclick="x()">Hello <em>there</em></p><script>bad()</script>`})
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Errorf("Description() kept unsafe markup: %q", got)
	}
	if !strings.Contains(got, "<em>there</em>") {
		t.Errorf("Description() dropped safe markup: %q", got)
	}
}

func TestSanitizeClass(t *testing.T) {
	tests := map[string]string{
		"simple":      "simple",
		"with space":  "withspace",
		"pct%2Fslash": "pctslash",
		"ünïcode":     "ncode",
		"a_b-c":       "a_b-c",
	}
	for in, want := range tests {
		if got := SanitizeClass(in); got != want {
			t.Errorf("SanitizeClass(%q) = %q, want %q", in, got, want)
		}
	}
}
