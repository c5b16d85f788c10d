package templating

import (
	"html/template"
	"reflect"
)

// baseFuncs returns the helpers every fragment gets, before any added with
// Renderer.Funcs.
func baseFuncs() template.FuncMap {
	return template.FuncMap{
		// Arithmetic
		"add": add,
		"sub": sub,
		"inc": inc,
		"dec": dec,

		// Values and lists (from funcs_logic.go)
		"isSet":    isSet,
		"default":  defaultValue,
		"list":     list,
		"first":    first,
		"repeat":   repeat,
		"dict":     dict,
		"safeHTML": safeHTML,
	}
}

// add returns a + b.
func add(a, b int) int {
	return a + b
}

// sub returns a - b.
func sub(a, b int) int {
	return a - b
}

// inc returns i + 1.
func inc(i int) int {
	return i + 1
}

// dec returns i - 1.
func dec(i int) int {
	return i - 1
}

// isSet returns true if a value is not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}

// defaultValue returns val, or fallback when val is its zero value.
// Used as {{default "fallback" .Value}}.
func defaultValue(fallback, val any) any {
	if isSet(val) {
		return val
	}
	return fallback
}

// safeHTML marks s as trusted markup. Only use it for output that was
// already sanitised, such as another fragment's result.
func safeHTML(s string) template.HTML {
	return template.HTML(s)
}
