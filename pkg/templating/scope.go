package templating

import "reflect"

// Scope is the dot of an executing fragment.
type Scope struct {
	// Data is the caller's payload, normalised by NormalizeData.
	Data []any
	// Path is the file being rendered.
	Path string
	// Dir is the directory of Path.
	Dir string
}

// First returns the first data element, or nil when there is none.
func (s Scope) First() any {
	if len(s.Data) == 0 {
		return nil
	}
	return s.Data[0]
}

// NormalizeData turns a render payload into a slice. Slices and arrays are
// copied element by element, nil becomes an empty slice and any other value
// becomes a one-element slice. Byte slices count as a single value.
func NormalizeData(data any) []any {
	if data == nil {
		return []any{}
	}
	if d, ok := data.([]any); ok {
		return d
	}
	if b, ok := data.([]byte); ok {
		return []any{b}
	}

	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = v.Index(i).Interface()
		}
		return out
	default:
		return []any{data}
	}
}
