// Package helpers bundles the fragment resolver, the fragment renderer, the
// term formatter and the deployment identity reader into one value that
// plugins receive explicitly.
//
// Register attaches a startup hook at priority 2 that builds the bundle, so
// it exists before subscribers at the default priority run.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/CTAG07/pluginkit/pkg/deploy"
	"github.com/CTAG07/pluginkit/pkg/hooks"
	"github.com/CTAG07/pluginkit/pkg/locate"
	"github.com/CTAG07/pluginkit/pkg/taxonomy"
	"github.com/CTAG07/pluginkit/pkg/templating"
)

// Priority is the startup hook priority of Register.
const Priority = 2

// Options configures New.
type Options struct {
	Logger     *slog.Logger
	Theme      locate.ThemeSource
	Templating *templating.Config
	// Terms backs the taxonomy helpers. When nil they are not installed.
	Terms     taxonomy.Source
	Constants deploy.Constants
	// TermBase is the URL prefix used by term links.
	TermBase string
}

// Helpers is the bundle handed to plugins.
type Helpers struct {
	Resolver  *locate.Resolver
	Renderer  *templating.Renderer
	Formatter *taxonomy.Formatter
	Identity  *deploy.Reader

	termBase string
	logger   *slog.Logger
}

// New builds a bundle from opts.
func New(opts Options) *Helpers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	resolver := locate.NewResolver(opts.Theme)
	resolver.SetLogger(logger.With("component", "locate"))

	h := &Helpers{
		Resolver: resolver,
		Renderer: templating.NewRenderer(logger.With("component", "templating"), resolver, opts.Templating),
		Identity: deploy.NewReader(opts.Constants),
		termBase: opts.TermBase,
		logger:   logger,
	}
	if opts.Terms != nil {
		h.Formatter = taxonomy.NewFormatter(opts.Terms)
		h.Formatter.SetLogger(logger.With("component", "taxonomy"))
	}
	h.Renderer.Funcs(h.funcMap(context.Background()))
	return h
}

// Locate finds the first of names under startPath or the theme
// directories. names is a string or a list of strings. With load set the
// located fragment is also included into the root renderer's output, once
// only when requireOnce is set. That output is io.Discard until
// Renderer.SetOutput is called; per-request includes should go through
// RendererFor and Resolver.LocateAndLoad instead.
func (h *Helpers) Locate(startPath string, names any, load, requireOnce bool) (string, error) {
	list, err := locate.NamesOf(names)
	if err != nil {
		return "", err
	}
	if !load {
		return h.Resolver.Locate(startPath, list...), nil
	}
	return h.Resolver.LocateAndLoad(startPath, list, h.Renderer, requireOnce)
}

// Render executes the fragment at path with data and returns its output.
func (h *Helpers) Render(path string, data any) (string, error) {
	return h.Renderer.Render(path, data)
}

// RendererFor returns a renderer for one request: it includes into w, has
// its own include-once record, and its taxonomy helpers fall back to the
// current item carried by ctx.
func (h *Helpers) RendererFor(ctx context.Context, w io.Writer) *templating.Renderer {
	r := h.Renderer.WithOutput(w)
	r.Funcs(h.funcMap(ctx))
	return r
}

// funcMap returns the fragment helpers bound to ctx.
func (h *Helpers) funcMap(ctx context.Context) template.FuncMap {
	funcs := template.FuncMap{
		"environment": h.Identity.Environment,
		"platform":    h.Identity.Platform,
	}
	if h.Formatter == nil {
		return funcs
	}

	f := h.Formatter
	funcs["terms"] = func(item any, tax string) ([]taxonomy.Term, error) {
		id, err := itemID(item)
		if err != nil {
			return nil, err
		}
		return f.Terms(ctx, id, tax)
	}
	funcs["tagList"] = func(item any, tax, sep string) (template.HTML, error) {
		id, err := itemID(item)
		if err != nil {
			return "", err
		}
		s, err := f.TagList(ctx, id, tax, sep)
		return template.HTML(s), err
	}
	funcs["classList"] = func(item any, tax, prefix string) (string, error) {
		id, err := itemID(item)
		if err != nil {
			return "", err
		}
		return f.ClassList(ctx, id, tax, prefix)
	}
	funcs["termLinks"] = func(item any, tax, sep string) (template.HTML, error) {
		id, err := itemID(item)
		if err != nil {
			return "", err
		}
		s, err := f.Links(ctx, id, tax, h.termBase, sep)
		return template.HTML(s), err
	}
	funcs["termName"] = func(t taxonomy.Term) template.HTML {
		return template.HTML(f.Name(t))
	}
	funcs["termDescription"] = func(t taxonomy.Term) template.HTML {
		return template.HTML(f.Description(t))
	}
	return funcs
}

// itemID converts the numeric forms an item ID takes in fragment data.
// nil means the current item.
func itemID(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintItemID(uint64(n))
	case uint32:
		return int64(n), nil
	case uint64:
		return uintItemID(n)
	case float64:
		// JSON numbers decode as float64; only whole values are ids.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("invalid item id %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("invalid item id %v (%T)", v, v)
	}
}

func uintItemID(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("item id %d out of range", n)
	}
	return int64(n), nil
}

// Provider hands out the bundle once the startup hook has built it.
type Provider struct {
	mu      sync.RWMutex
	helpers *Helpers
}

// Get returns the bundle, or false before the startup event has run.
func (p *Provider) Get() (*Helpers, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.helpers, p.helpers != nil
}

// MustGet returns the bundle and panics when it has not been built yet.
func (p *Provider) MustGet() *Helpers {
	h, ok := p.Get()
	if !ok {
		panic("helpers: bundle requested before " + hooks.EventStartup)
	}
	return h
}

// Register attaches a priority 2 hook to the startup event that builds the
// bundle from opts. Running the event again keeps the first bundle.
func Register(reg *hooks.Registry, opts Options) *Provider {
	p := &Provider{}
	reg.Add(hooks.EventStartup, Priority, func(ctx context.Context) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.helpers != nil {
			return nil
		}
		p.helpers = New(opts)
		p.helpers.logger.DebugContext(ctx, "Helpers registered", "priority", Priority)
		return nil
	})
	return p
}
