package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/pluginkit/pkg/helpers"
	"github.com/CTAG07/pluginkit/pkg/locate"
	"github.com/CTAG07/pluginkit/pkg/taxonomy"
	"github.com/natefinch/atomic"
)

// FragmentAPI holds the dependencies for the fragment API handlers.
type FragmentAPI struct {
	helpers *helpers.Helpers
	config  *ConfigManager
	logger  *slog.Logger
}

// LocateRequest is the JSON body of the locate and render endpoints. Names
// is a single name or a list. Start defaults to the plugin directory and is
// resolved against it when relative.
type LocateRequest struct {
	Start       string       `json:"start"`
	Names       locate.Names `json:"names"`
	Load        bool         `json:"load"`
	RequireOnce *bool        `json:"require_once"`
	Item        int64        `json:"item"`
	Data        any          `json:"data"`
}

// LocateResponse is returned by the locate and render endpoints.
type LocateResponse struct {
	Located string `json:"located"`
	Output  string `json:"output,omitempty"`
}

// NewFragmentAPI creates a new instance of the FragmentAPI.
func NewFragmentAPI(h *helpers.Helpers, cm *ConfigManager, logger *slog.Logger) *FragmentAPI {
	return &FragmentAPI{
		helpers: h,
		config:  cm,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for all /api/fragments endpoints.
func (f *FragmentAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/fragments/locate", f.handleLocate)
	mux.HandleFunc("/api/fragments/render", f.handleRender)
	mux.HandleFunc("/api/fragments/preview", f.handlePreview)
	mux.HandleFunc("/api/fragments", f.handleList)
	mux.HandleFunc("/api/fragments/", f.handleFile)
}

// searchStart resolves a request's start directory against the plugin
// directory. The start must stay inside it and every name must be a
// relative path without ".." segments, so requests only reach the plugin
// and theme directories.
func (f *FragmentAPI) searchStart(start string, names locate.Names) (string, error) {
	pluginDir, err := filepath.Abs(f.config.PluginDir())
	if err != nil {
		return "", fmt.Errorf("failed to resolve plugin directory: %w", err)
	}
	dir := pluginDir
	if start != "" {
		if filepath.IsAbs(start) {
			dir = filepath.Clean(start)
		} else {
			dir = filepath.Join(pluginDir, start)
		}
	}
	if dir != pluginDir && !strings.HasPrefix(dir, pluginDir+string(filepath.Separator)) {
		return "", fmt.Errorf("start '%s' is outside the plugin directory", start)
	}
	for _, name := range names {
		if name != "" && !fs.ValidPath(name) {
			return "", fmt.Errorf("invalid fragment name '%s'", name)
		}
	}
	return dir, nil
}

// handleLocate resolves names to a path. With load set the fragment is also
// included, and its output returned.
func (f *FragmentAPI) handleLocate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "fragments:read") {
		return
	}
	var req LocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := f.searchStart(req.Start, req.Names)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Load {
		respondWithJSON(w, http.StatusOK, LocateResponse{Located: f.helpers.Resolver.Locate(start, req.Names...)})
		return
	}

	requireOnce := req.RequireOnce == nil || *req.RequireOnce
	var buf bytes.Buffer
	renderer := f.helpers.RendererFor(f.itemContext(r, req.Item), &buf)
	located, err := f.helpers.Resolver.LocateAndLoad(start, req.Names, renderer, requireOnce)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to load fragment: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, LocateResponse{Located: located, Output: buf.String()})
}

// handleRender locates the first matching fragment and renders it with data.
func (f *FragmentAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "fragments:read") {
		return
	}
	var req LocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start, err := f.searchStart(req.Start, req.Names)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	located := f.helpers.Resolver.Locate(start, req.Names...)
	if located == "" {
		respondWithError(w, http.StatusNotFound, "No fragment found for the given names")
		return
	}

	renderer := f.helpers.RendererFor(f.itemContext(r, req.Item), io.Discard)
	content, err := renderer.Render(located, req.Data)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Fragment execution failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, LocateResponse{Located: located, Output: content})
}

// handlePreview renders fragment source from the body as if it lived in the
// plugin directory, without saving it.
func (f *FragmentAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "fragments:read") {
		return
	}
	item, err := queryID(r, "item")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	renderer := f.helpers.RendererFor(f.itemContext(r, item), io.Discard)
	content, err := renderer.RenderString(string(body), f.config.PluginDir(), r.URL.Query()["data"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Fragment execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, content)
}

// handleList returns the fragment files in the plugin directory.
func (f *FragmentAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "fragments:read") {
		return
	}
	names, err := f.helpers.Renderer.Fragments(f.config.PluginDir())
	if err != nil {
		f.logger.Error("Failed to list fragments", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list fragments")
		return
	}
	if names == nil {
		names = []string{}
	}
	respondWithJSON(w, http.StatusOK, names)
}

// handleFile manages CRUD operations for a single fragment file.
func (f *FragmentAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/fragments/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}
	if !fs.ValidPath(name) || !f.helpers.Renderer.IsFragment(name) {
		respondWithError(w, http.StatusBadRequest, "Invalid fragment name format")
		return
	}

	pluginDir, err := filepath.Abs(f.config.PluginDir())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve plugin directory")
		return
	}
	path := filepath.Join(pluginDir, filepath.FromSlash(name))
	if !strings.HasPrefix(path, pluginDir+string(filepath.Separator)) {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside plugin directory")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, "fragments:read") {
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Fragment not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !requireScope(w, r, "fragments:write") {
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		// Reject source that does not parse before it replaces a working fragment.
		if err = f.helpers.Renderer.Check(string(body), filepath.Dir(path)); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create fragment directory: %v", err))
			return
		}
		if err = atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write fragment file: %v", err))
			return
		}
		f.logger.Info("Fragment saved via API", "name", name, "bytes", len(body))
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, "fragments:write") {
			return
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				respondWithError(w, http.StatusNotFound, "Fragment not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete fragment file: %v", err))
			return
		}
		f.logger.Info("Fragment deleted via API", "name", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// itemContext returns the request context carrying item as the current
// item, when one was given.
func (f *FragmentAPI) itemContext(r *http.Request, item int64) context.Context {
	if item <= 0 {
		return r.Context()
	}
	return taxonomy.WithItem(r.Context(), item)
}
