package locate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// searchDirs creates start, stylesheet and template directories under a temp dir.
func searchDirs(t *testing.T) (start, stylesheet, template string) {
	t.Helper()
	root := t.TempDir()
	start = filepath.Join(root, "plugin", "templates")
	stylesheet = filepath.Join(root, "themes", "child")
	template = filepath.Join(root, "themes", "parent")
	for _, dir := range []string{start, stylesheet, template} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}
	return start, stylesheet, template
}

func writeFragment(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLocate_StartPathWins(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	want := writeFragment(t, start, "card.tmpl.html")
	writeFragment(t, stylesheet, "card.tmpl.html")
	writeFragment(t, template, "card.tmpl.html")

	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})
	if got := r.Locate(start, "card.tmpl.html"); got != want {
		t.Errorf("Locate() = %q, want %q", got, want)
	}
}

func TestLocate_NamePriorityBeforeDirectoryPriority(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	want := writeFragment(t, stylesheet, "single-event.tmpl.html")
	writeFragment(t, start, "single.tmpl.html")

	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})
	got := r.Locate(start, "single-event.tmpl.html", "single.tmpl.html")
	if got != want {
		t.Errorf("Locate() = %q, want stylesheet match %q", got, want)
	}
}

func TestLocate_TemplateFallback(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	want := writeFragment(t, template, "archive.tmpl.html")

	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})
	if got := r.Locate(start, "archive.tmpl.html"); got != want {
		t.Errorf("Locate() = %q, want %q", got, want)
	}
}

func TestLocate_EmptyNamesAreSkipped(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})

	if got := r.Locate(start, "", "", ""); got != "" {
		t.Errorf("Locate() with only empty names = %q, want empty", got)
	}
	if got := r.Locate(start); got != "" {
		t.Errorf("Locate() with no names = %q, want empty", got)
	}

	want := writeFragment(t, start, "late.tmpl.html")
	if got := r.Locate(start, "", "late.tmpl.html"); got != want {
		t.Errorf("Locate() after empty name = %q, want %q", got, want)
	}
}

func TestLocate_NotFound(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	writeFragment(t, start, "other.tmpl.html")

	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})
	if got := r.Locate(start, "missing.tmpl.html", "gone.tmpl.html"); got != "" {
		t.Errorf("Locate() = %q, want empty", got)
	}
}

func TestLocate_TrailingSlashNormalized(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	writeFragment(t, start, "a.tmpl.html")
	writeFragment(t, template, "b.tmpl.html")

	r := NewResolver(ThemePaths{Stylesheet: stylesheet + "/", Template: template + "//"})
	if got, want := r.Locate(start+"/", "a.tmpl.html"), start+"/a.tmpl.html"; got != want {
		t.Errorf("Locate() = %q, want %q", got, want)
	}
	if got, want := r.Locate(start, "b.tmpl.html"), template+"/b.tmpl.html"; got != want {
		t.Errorf("Locate() = %q, want %q", got, want)
	}
}

func TestLocate_ThemeReadOncePerCall(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	calls := 0
	theme := ThemeFunc(func() (string, string) {
		calls++
		return stylesheet, template
	})

	r := NewResolver(theme)
	r.Locate(start, "a.tmpl.html", "b.tmpl.html", "c.tmpl.html")
	if calls != 1 {
		t.Errorf("theme paths read %d times, want 1", calls)
	}
}

func TestLocate_CustomStat(t *testing.T) {
	var checked []string
	r := NewResolver(ThemePaths{Stylesheet: "/theme/child", Template: "/theme/parent"})
	r.SetStat(func(name string) (os.FileInfo, error) {
		checked = append(checked, name)
		return nil, os.ErrNotExist
	})

	r.Locate("/plugin/", "a.html", "", "b.html")

	want := []string{
		"/plugin/a.html", "/theme/child/a.html", "/theme/parent/a.html",
		"/plugin/b.html", "/theme/child/b.html", "/theme/parent/b.html",
	}
	if diff := cmp.Diff(want, checked); diff != "" {
		t.Errorf("stat order mismatch (-want +got):\n%s", diff)
	}
}

type recordingLoader struct {
	calls []string
	once  []bool
	err   error
}

func (l *recordingLoader) Load(path string, once bool) error {
	l.calls = append(l.calls, path)
	l.once = append(l.once, once)
	return l.err
}

func TestLocateAndLoad(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	want := writeFragment(t, start, "widget.tmpl.html")
	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})

	loader := &recordingLoader{}
	got, err := r.LocateAndLoad(start, Names{"widget.tmpl.html"}, loader, false)
	if err != nil {
		t.Fatalf("LocateAndLoad() error = %v", err)
	}
	if got != want {
		t.Errorf("LocateAndLoad() = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{want}, loader.calls); diff != "" {
		t.Errorf("loader calls mismatch (-want +got):\n%s", diff)
	}
	if loader.once[0] {
		t.Error("requireOnce=false was not passed through to the loader")
	}

	if _, err = r.LocateAndLoad(start, Names{"widget.tmpl.html"}, loader, true); err != nil {
		t.Fatalf("LocateAndLoad() error = %v", err)
	}
	if !loader.once[1] {
		t.Error("requireOnce=true was not passed through to the loader")
	}
}

func TestLocateAndLoad_NotFoundSkipsLoader(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})

	loader := &recordingLoader{}
	got, err := r.LocateAndLoad(start, Names{"nothing.tmpl.html"}, loader, true)
	if err != nil || got != "" {
		t.Fatalf("LocateAndLoad() = (%q, %v), want (\"\", nil)", got, err)
	}
	if len(loader.calls) != 0 {
		t.Errorf("loader called %d times for a missing fragment", len(loader.calls))
	}
}

func TestLocateAndLoad_Errors(t *testing.T) {
	start, stylesheet, template := searchDirs(t)
	want := writeFragment(t, start, "broken.tmpl.html")
	r := NewResolver(ThemePaths{Stylesheet: stylesheet, Template: template})

	got, err := r.LocateAndLoad(start, Names{"broken.tmpl.html"}, nil, true)
	if !errors.Is(err, ErrNoLoader) {
		t.Errorf("LocateAndLoad() without loader error = %v, want ErrNoLoader", err)
	}
	if got != want {
		t.Errorf("LocateAndLoad() = %q, want %q", got, want)
	}

	loadErr := errors.New("boom")
	if _, err = r.LocateAndLoad(start, Names{"broken.tmpl.html"}, &recordingLoader{err: loadErr}, true); !errors.Is(err, loadErr) {
		t.Errorf("LocateAndLoad() error = %v, want wrapped loader error", err)
	}
}

func TestNamesOf(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    Names
		wantErr bool
	}{
		{name: "nil", in: nil, want: Names{}},
		{name: "single", in: "a.html", want: Names{"a.html"}},
		{name: "slice", in: []string{"a.html", "", "b.html"}, want: Names{"a.html", "", "b.html"}},
		{name: "any slice", in: []any{"a.html", nil}, want: Names{"a.html", ""}},
		{name: "bad element", in: []any{"a.html", 3}, wantErr: true},
		{name: "bad type", in: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NamesOf(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NamesOf(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); !tt.wantErr && diff != "" {
				t.Errorf("NamesOf(%v) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestNames_UnmarshalJSON(t *testing.T) {
	var payload struct {
		One  Names `json:"one"`
		Many Names `json:"many"`
	}
	if err := json.Unmarshal([]byte(`{"one":"a.html","many":["b.html","","c.html"]}`), &payload); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(Names{"a.html"}, payload.One); diff != "" {
		t.Errorf("single name mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Names{"b.html", "", "c.html"}, payload.Many); diff != "" {
		t.Errorf("name list mismatch (-want +got):\n%s", diff)
	}

	if err := json.Unmarshal([]byte(`{"one":12}`), &payload); err == nil {
		t.Error("Unmarshal() expected error for numeric names")
	}
}
