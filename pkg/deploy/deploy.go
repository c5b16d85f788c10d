// Package deploy reads the deployment identity (environment and platform)
// from named configuration constants.
package deploy

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// ConstEnvironment names the constant holding the deployment environment.
	ConstEnvironment = "ENVIRONMENT"
	// ConstPlatform names the constant holding the hosting platform.
	ConstPlatform = "PLATFORM"
)

// ErrUndefined is returned by Lookup when a constant has no value.
var ErrUndefined = errors.New("deploy: constant not defined")

// Constants is a source of named configuration values.
type Constants interface {
	Lookup(name string) (string, bool)
}

// Map is a Constants backed by a map, usually the "constants" section of
// the config file.
type Map map[string]string

// Lookup implements Constants.
func (m Map) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Env is a Constants backed by environment variables. A non-empty Prefix
// is prepended to every name.
type Env struct {
	Prefix string
}

// Lookup implements Constants.
func (e Env) Lookup(name string) (string, bool) {
	return os.LookupEnv(e.Prefix + name)
}

// Chain asks each source in turn and returns the first defined value.
type Chain []Constants

// Lookup implements Constants.
func (c Chain) Lookup(name string) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}

// Identity is the environment and platform the service is deployed on.
type Identity struct {
	Environment string `json:"environment"`
	Platform    string `json:"platform"`
}

// Reader resolves the deployment identity from a Constants source.
type Reader struct {
	constants Constants
}

// NewReader returns a Reader over constants. A nil source defines nothing.
func NewReader(constants Constants) *Reader {
	if constants == nil {
		constants = Map(nil)
	}
	return &Reader{constants: constants}
}

// Lookup returns the trimmed value of a constant, or ErrUndefined when it
// is missing.
func (r *Reader) Lookup(name string) (string, error) {
	v, ok := r.constants.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrUndefined)
	}
	return strings.TrimSpace(v), nil
}

// Environment returns the deployment environment, or "" when undefined.
func (r *Reader) Environment() string {
	v, _ := r.Lookup(ConstEnvironment)
	return v
}

// Platform returns the hosting platform, or "" when undefined.
func (r *Reader) Platform() string {
	v, _ := r.Lookup(ConstPlatform)
	return v
}

// Identity returns both values at once.
func (r *Reader) Identity() Identity {
	return Identity{Environment: r.Environment(), Platform: r.Platform()}
}
