package templating

// Config holds all configuration options for the fragment renderer.
type Config struct {
	// Extensions lists the file suffixes treated as fragments when listing a
	// directory or accepting fragment files over the API.
	Extensions []string `json:"extensions"`

	// MaxDepth sets a hard upper limit on nested render calls. It stops a
	// fragment that renders itself from recursing forever.
	MaxDepth int `json:"max_depth"`

	// StrictMissingKeys makes a missing map key an execution error instead of
	// rendering "<no value>".
	StrictMissingKeys bool `json:"strict_missing_keys"`
}

// DefaultConfig returns a Config with safe default values.
func DefaultConfig() *Config {
	return &Config{
		Extensions:        []string{".tmpl.html", ".part.html"},
		MaxDepth:          16,
		StrictMissingKeys: false,
	}
}
