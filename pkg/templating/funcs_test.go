package templating

import (
	"html/template"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestBaseFuncs executes each built-in helper through a template, the way
// fragments call them.
func TestBaseFuncs(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data any
		want string
	}{
		{"add and sub", `{{add 2 3}} {{sub 2 3}}`, nil, "5 -1"},
		{"inc and dec", `{{inc 1}} {{dec 1}}`, nil, "2 0"},
		{"repeat", `{{range repeat 3}}{{.}}{{end}}`, nil, "012"},
		{"repeat negative", `{{range repeat -1}}x{{else}}none{{end}}`, nil, "none"},
		{"list and first", `{{first (list "a" "b")}}`, nil, "a"},
		{"first of empty", `{{if first (list)}}set{{else}}empty{{end}}`, nil, "empty"},
		{"first of non-list", `{{if first "x"}}set{{else}}empty{{end}}`, nil, "empty"},
		{"dict", `{{with dict "k" "v" "n" 1}}{{.k}}{{.n}}{{end}}`, nil, "v1"},
		{"isSet", `{{isSet .}} {{isSet ""}}`, "x", "true false"},
		{"default", `{{default "fb" .}}`, "", "fb"},
		{"default keeps value", `{{default "fb" .}}`, "val", "val"},
		{"safeHTML", `{{safeHTML "<b>x</b>"}} {{"<b>x</b>"}}`, nil, "<b>x</b> &lt;b&gt;x&lt;/b&gt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := template.New("t").Funcs(baseFuncs()).Parse(tt.tmpl)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			var sb strings.Builder
			if err = tpl.Execute(&sb, tt.data); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := sb.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDictErrors(t *testing.T) {
	if _, err := dict("a"); err == nil {
		t.Error("dict with an odd number of arguments should fail")
	}
	if _, err := dict(1, "a"); err == nil {
		t.Error("dict with a non-string key should fail")
	}
	got, err := dict()
	if err != nil {
		t.Fatalf("dict() error = %v", err)
	}
	if diff := cmp.Diff(map[string]any{}, got); diff != "" {
		t.Errorf("dict() mismatch (-want +got):\n%s", diff)
	}
}
