package locate

import (
	"encoding/json"
	"fmt"
)

// Names is an ordered list of candidate fragment names. Empty entries are
// kept so callers can pass optional names; the Resolver skips them.
type Names []string

// NamesOf normalises a single name, a list of names, or nil into Names.
// Unsupported types produce an error.
func NamesOf(v any) (Names, error) {
	switch n := v.(type) {
	case nil:
		return Names{}, nil
	case string:
		return Names{n}, nil
	case []string:
		return Names(n), nil
	case Names:
		return n, nil
	case []any:
		out := make(Names, 0, len(n))
		for i, item := range n {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
				out = append(out, "")
			default:
				return nil, fmt.Errorf("candidate name %d has type %T, want string", i, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("candidate names have type %T, want string or list of strings", v)
	}
}

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (n *Names) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	names, err := NamesOf(raw)
	if err != nil {
		return err
	}
	*n = names
	return nil
}
