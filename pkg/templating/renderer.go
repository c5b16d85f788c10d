package templating

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CTAG07/pluginkit/pkg/locate"
)

// ErrMaxDepth is returned when nested render calls exceed Config.MaxDepth.
var ErrMaxDepth = errors.New("templating: maximum render depth exceeded")

// Renderer executes fragment files and captures their output. It keeps no
// state between Render calls apart from the include-once record used by
// Load. All methods are concurrent-safe.
type Renderer struct {
	logger   *slog.Logger
	config   *Config
	resolver *locate.Resolver
	funcs    template.FuncMap
	out      io.Writer
	included map[string]struct{}
	active   *atomic.Int64
	mu       sync.RWMutex
	loadMu   sync.Mutex
}

// NewRenderer creates a Renderer. resolver backs the "locate" fragment
// helper and may be nil, in which case "locate" always returns "". A nil
// config uses DefaultConfig. Load writes to io.Discard until SetOutput is
// called.
func NewRenderer(logger *slog.Logger, resolver *locate.Resolver, config *Config) *Renderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Renderer{
		logger:   logger,
		config:   config,
		resolver: resolver,
		funcs:    template.FuncMap{},
		out:      io.Discard,
		included: map[string]struct{}{},
		active:   &atomic.Int64{},
	}
}

// SetConfig applies a new configuration. Renders already in progress keep
// the configuration they started with.
func (r *Renderer) SetConfig(config *Config) {
	if config == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

// GetConfig returns a copy of the current configuration.
func (r *Renderer) GetConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.config
}

// Funcs adds helpers available to every fragment. The built-in "render",
// "locate" and "captureDepth" helpers cannot be replaced.
func (r *Renderer) Funcs(funcs template.FuncMap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, fn := range funcs {
		r.funcs[name] = fn
	}
}

// SetOutput sets the writer Load includes fragments into.
func (r *Renderer) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.out = w
}

// WithOutput returns a Renderer that shares configuration and helpers with r
// but includes into w and has its own include-once record. Use one per
// request.
func (r *Renderer) WithOutput(w io.Writer) *Renderer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funcs := make(template.FuncMap, len(r.funcs))
	for name, fn := range r.funcs {
		funcs[name] = fn
	}
	if w == nil {
		w = io.Discard
	}
	return &Renderer{
		logger:   r.logger,
		config:   r.config,
		resolver: r.resolver,
		funcs:    funcs,
		out:      w,
		included: map[string]struct{}{},
		active:   r.active,
	}
}

// ActiveCaptures reports how many capture regions are open across every
// Renderer derived from the same root. It is zero whenever no render is in
// progress.
func (r *Renderer) ActiveCaptures() int {
	return int(r.active.Load())
}

// Render executes the fragment at path with data and returns its output.
// data is normalised with NormalizeData. Nothing is written to the
// renderer's output; the result is also copied to each writer in out after
// a successful render.
func (r *Renderer) Render(path string, data any, out ...io.Writer) (string, error) {
	s := r.newSession()
	content, err := s.render(path, NormalizeData(data))
	if err != nil {
		return "", err
	}

	for _, w := range out {
		if _, err = io.WriteString(w, content); err != nil {
			return "", fmt.Errorf("error writing fragment '%s': %w", path, err)
		}
	}
	return content, nil
}

// RenderString executes raw fragment source as if it were a file in dir.
// This is ideal for previewing fragments without saving them to disk.
func (r *Renderer) RenderString(content, dir string, data any) (string, error) {
	s := r.newSession()
	path := filepath.Join(dir, "preview")

	buf := s.stack.push()
	defer s.stack.pop()

	tpl, err := s.parse(path, content)
	if err != nil {
		return "", fmt.Errorf("failed to parse fragment string: %w", err)
	}
	if err = tpl.Execute(buf, Scope{Data: NormalizeData(data), Path: path, Dir: dir}); err != nil {
		return "", fmt.Errorf("failed to execute fragment string: %w", err)
	}
	return buf.String(), nil
}

// Check parses fragment source as if it were a file in dir, without
// executing it.
func (r *Renderer) Check(content, dir string) error {
	s := r.newSession()
	if _, err := s.parse(filepath.Join(dir, "check"), content); err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	return nil
}

// Load renders the fragment at path and writes it to the renderer's output.
// With once set, a path this Renderer already loaded is skipped. It
// implements locate.Loader.
func (r *Renderer) Load(path string, once bool) error {
	// Record paths in the absolute form render uses.
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if _, seen := r.included[path]; seen && once {
		r.logger.Debug("Fragment already included, skipping", "path", path)
		return nil
	}

	content, err := r.Render(path, nil)
	if err != nil {
		return err
	}
	r.included[path] = struct{}{}

	if _, err = io.WriteString(r.out, content); err != nil {
		return fmt.Errorf("error writing fragment '%s': %w", path, err)
	}
	return nil
}

// Included returns the paths Load has included so far.
func (r *Renderer) Included() []string {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	paths := make([]string, 0, len(r.included))
	for p := range r.included {
		paths = append(paths, p)
	}
	return paths
}

// Fragments lists the fragment files under dir, relative to dir and using
// forward slashes. Hidden files and directories are skipped.
func (r *Renderer) Fragments(dir string) ([]string, error) {
	cfg := r.GetConfig()
	var names []string
	err := fs.WalkDir(os.DirFS(dir), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// skip hidden files and directories.
		if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if validExt(cfg.Extensions, d.Name()) {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing fragments in '%s': %w", dir, err)
	}
	return names, nil
}

// IsFragment reports whether name carries one of the configured extensions.
func (r *Renderer) IsFragment(name string) bool {
	return validExt(r.GetConfig().Extensions, name)
}

// session is one top-level render and every render nested inside it.
type session struct {
	r      *Renderer
	cfg    Config
	funcs  template.FuncMap
	stack  *captureStack
	logger *slog.Logger
}

func (r *Renderer) newSession() *session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := *r.config
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	funcs := make(template.FuncMap, len(r.funcs))
	for name, fn := range r.funcs {
		funcs[name] = fn
	}
	return &session{
		r:      r,
		cfg:    cfg,
		funcs:  funcs,
		stack:  newCaptureStack(r.active),
		logger: r.logger,
	}
}

// render opens a capture region, executes the fragment into it and closes
// the region before returning, whatever the outcome.
func (s *session) render(path string, data []any) (string, error) {
	if s.stack.depth() >= s.cfg.MaxDepth {
		return "", fmt.Errorf("error rendering '%s': %w", path, ErrMaxDepth)
	}

	// Nested names are joined to this directory, so keep it absolute.
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	buf := s.stack.push()
	defer s.stack.pop()

	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading fragment '%s': %w", path, err)
	}

	tpl, err := s.parse(path, string(body))
	if err != nil {
		return "", fmt.Errorf("error parsing fragment '%s': %w", path, err)
	}

	scope := Scope{Data: data, Path: path, Dir: filepath.Dir(path)}
	if err = tpl.Execute(buf, scope); err != nil {
		return "", fmt.Errorf("error rendering '%s': %w", path, err)
	}

	s.logger.Debug("Fragment rendered", "path", path, "depth", s.stack.depth(), "bytes", buf.Len())
	return buf.String(), nil
}

func (s *session) parse(path, body string) (*template.Template, error) {
	tpl := template.New(filepath.Base(path)).Funcs(s.funcMap(filepath.Dir(path)))
	if s.cfg.StrictMissingKeys {
		tpl = tpl.Option("missingkey=error")
	}
	return tpl.Parse(body)
}

// funcMap builds the helpers for a fragment living in dir.
func (s *session) funcMap(dir string) template.FuncMap {
	funcs := baseFuncs()
	for name, fn := range s.funcs {
		funcs[name] = fn
	}

	// An empty name renders nothing so optional lookups can be chained.
	funcs["render"] = func(name string, args ...any) (template.HTML, error) {
		if name == "" {
			return "", nil
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		out, err := s.render(path, argsData(args))
		return template.HTML(out), err
	}
	funcs["locate"] = func(start string, names ...string) string {
		if s.r.resolver == nil {
			return ""
		}
		if !filepath.IsAbs(start) {
			start = filepath.Join(dir, start)
		}
		return s.r.resolver.Locate(start, names...)
	}
	funcs["captureDepth"] = s.stack.depth

	return funcs
}

func argsData(args []any) []any {
	switch len(args) {
	case 0:
		return []any{}
	case 1:
		return NormalizeData(args[0])
	default:
		return args
	}
}

func validExt(exts []string, name string) bool {
	if name == "" {
		return false
	}
	for _, e := range exts {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.HasSuffix(strings.ToLower(name), strings.ToLower(e)) && len(name) > len(e) {
			return true
		}
	}
	return false
}
