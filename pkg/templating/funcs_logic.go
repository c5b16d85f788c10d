package templating

import (
	"errors"
	"reflect"
)

// repeat returns a slice of integers from 0 to count-1.
func repeat(count int) []int {
	if count < 0 {
		return []int{}
	}
	s := make([]int, count)
	for i := 0; i < count; i++ {
		s[i] = i
	}
	return s
}

// list returns a slice containing all the arguments passed to it.
func list(args ...any) []any {
	return args
}

// first returns the first element of a slice or array, or nil if it is
// empty or not a list at all.
func first(slice any) any {
	if slice == nil {
		return nil
	}
	val := reflect.ValueOf(slice)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil
	}
	if val.Len() == 0 {
		return nil
	}
	return val.Index(0).Interface()
}

// dict builds a map from alternating keys and values, so a fragment can
// pass several named values to another fragment.
func dict(pairs ...any) (map[string]any, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, errors.New("dict: keys must be strings")
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}
