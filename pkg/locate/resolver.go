package locate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// ThemeSource supplies the active theme's directories. Stylesheet is the
// child theme (or the theme itself); Template is the parent theme.
type ThemeSource interface {
	ThemePaths() (stylesheet, template string)
}

// ThemePaths is a fixed ThemeSource.
type ThemePaths struct {
	Stylesheet string `json:"stylesheet_path"`
	Template   string `json:"template_path"`
}

// ThemePaths implements ThemeSource.
func (t ThemePaths) ThemePaths() (string, string) {
	return t.Stylesheet, t.Template
}

// ThemeFunc adapts a function to ThemeSource.
type ThemeFunc func() (stylesheet, template string)

// ThemePaths implements ThemeSource.
func (f ThemeFunc) ThemePaths() (string, string) {
	return f()
}

// StatFunc reports on a path the way os.Stat does. Any error counts as
// "does not exist".
type StatFunc func(name string) (fs.FileInfo, error)

// Loader includes a located fragment. When once is true a path that the
// loader has already included must not be included again.
type Loader interface {
	Load(path string, once bool) error
}

// ErrNoLoader is returned by LocateAndLoad when a fragment was found but
// there is nothing to load it with.
var ErrNoLoader = errors.New("locate: no loader configured")

// Resolver performs the ordered start -> stylesheet -> template lookup.
// It holds no per-call state and is safe for concurrent use once
// configured.
type Resolver struct {
	theme  ThemeSource
	stat   StatFunc
	logger *slog.Logger
}

// NewResolver creates a Resolver that falls back to the directories
// reported by theme. Existence checks use os.Stat.
func NewResolver(theme ThemeSource) *Resolver {
	if theme == nil {
		theme = ThemePaths{}
	}
	return &Resolver{
		theme:  theme,
		stat:   os.Stat,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetStat replaces the existence check, mostly for tests and virtual
// filesystems.
func (r *Resolver) SetStat(stat StatFunc) {
	if stat != nil {
		r.stat = stat
	}
}

// SetLogger sets the logger for the Resolver. By default, all logs are discarded.
func (r *Resolver) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Locate returns the first existing startPath/name, stylesheet/name or
// template/name, trying every directory for a name before moving to the
// next name. Empty names are skipped. It returns "" when nothing matches.
func (r *Resolver) Locate(startPath string, names ...string) string {
	stylesheet, template := r.theme.ThemePaths()
	dirs := [3]string{
		untrailingSlash(startPath),
		untrailingSlash(stylesheet),
		untrailingSlash(template),
	}

	for _, name := range names {
		if name == "" {
			continue
		}
		for _, dir := range dirs {
			candidate := dir + "/" + name
			if r.exists(candidate) {
				r.logger.Debug("Fragment located", "name", name, "path", candidate)
				return candidate
			}
		}
	}

	r.logger.Debug("No fragment located", "start", startPath, "names", []string(names))
	return ""
}

// LocateAndLoad locates like Locate and, when something is found, hands
// the path to loader. requireOnce is passed through so the loader can skip
// paths it already included. The located path is returned even if loading
// fails.
func (r *Resolver) LocateAndLoad(startPath string, names Names, loader Loader, requireOnce bool) (string, error) {
	located := r.Locate(startPath, names...)
	if located == "" {
		return "", nil
	}
	if loader == nil {
		return located, ErrNoLoader
	}
	if err := loader.Load(located, requireOnce); err != nil {
		return located, fmt.Errorf("error loading fragment '%s': %w", located, err)
	}
	return located, nil
}

func (r *Resolver) exists(path string) bool {
	_, err := r.stat(path)
	return err == nil
}

// untrailingSlash removes trailing forward and back slashes.
func untrailingSlash(path string) string {
	return strings.TrimRight(path, `/\`)
}
