package main

import (
	"bytes"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/CTAG07/pluginkit/pkg/helpers"
	"github.com/CTAG07/pluginkit/pkg/taxonomy"
)

// PageData is the payload fragments receive when served as pages.
type PageData struct {
	Path  string
	Item  int64
	Query url.Values
}

type Server struct {
	config      *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	store       *taxonomy.Store
	helpers     *helpers.Helpers
	authAPI     *AuthAPI
	fragmentAPI *FragmentAPI
	termsAPI    *TermsAPI
	serverAPI   *ServerAPI
	pageMux     *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, store *taxonomy.Store, h *helpers.Helpers, actionChan chan string) *Server {
	server := &Server{
		config:      cm,
		db:          db,
		logger:      logger,
		store:       store,
		helpers:     h,
		authAPI:     NewAuthAPI(db, logger),
		fragmentAPI: NewFragmentAPI(h, cm, logger),
		termsAPI:    NewTermsAPI(store, h.Formatter, cm, logger),
		serverAPI:   NewServerAPI(cm, actionChan, h.Identity, logger),
		pageMux:     http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.fragmentAPI.RegisterRoutes(apiMux)
	server.termsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Every api route passes through authentication, except the health
	// check so container health checks can use it.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	server.pageMux.HandleFunc("/favicon.ico", handleFavicon)
	server.pageMux.HandleFunc("/", server.handlePage)

	return server
}

// handlePage locates the fragment for the request path under the plugin
// directory, falling back to the theme, and renders it for the requested item.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	names, ok := pageCandidates(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	data := PageData{Path: r.URL.Path, Query: r.URL.Query()}
	if itemStr := r.URL.Query().Get("item"); itemStr != "" {
		item, err := strconv.ParseInt(itemStr, 10, 64)
		if err != nil || item <= 0 {
			http.Error(w, "Invalid item", http.StatusBadRequest)
			return
		}
		data.Item = item
		ctx = taxonomy.WithItem(ctx, item)
	}

	located := s.helpers.Resolver.Locate(s.config.PluginDir(), names...)
	if located == "" {
		s.logger.Debug("No fragment for page", "path", r.URL.Path, "candidates", names)
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	renderer := s.helpers.RendererFor(ctx, &buf)
	if _, err := renderer.Render(located, data, &buf); err != nil {
		s.logger.Error("Failed to render page", "fragment", located, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Serving page",
		"path", r.URL.Path,
		"fragment", located,
		"item", data.Item,
		"remote_addr", s.clientIP(r))

	for k, v := range s.config.Get().Server.PageHeaders {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	_, _ = buf.WriteTo(w)
}

// pageCandidates maps a URL path to the fragment names tried for it, most
// specific first. Paths with hidden or parent segments have no candidates.
func pageCandidates(urlPath string) ([]string, bool) {
	p := strings.Trim(urlPath, "/")
	if p == "" {
		return []string{"index.tmpl.html", "page.tmpl.html"}, true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") || strings.Contains(seg, `\`) {
			return nil, false
		}
	}
	return []string{p + ".tmpl.html", p + "/index.tmpl.html", "page.tmpl.html"}, true
}

// clientIP returns the client address, honouring forwarding headers only
// when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !s.config.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first IP of X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}

// handleFavicon answers favicon requests with no content so they never hit
// the fragment lookup.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
