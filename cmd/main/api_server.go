package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/pluginkit/pkg/deploy"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	config     *ConfigManager
	actionChan chan string
	identity   *deploy.Reader
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(cm *ConfigManager, actionChan chan string, identity *deploy.Reader, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		config:     cm,
		actionChan: actionChan,
		identity:   identity,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for the /api/server and /api/identity endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/identity", a.handleIdentity)
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleHealthCheck answers unauthenticated liveness checks.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIdentity returns the deployment environment and platform.
func (a *ServerAPI) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "server:read") {
		return
	}
	respondWithJSON(w, http.StatusOK, a.identity.Identity())
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPut) || !requireScope(w, r, "server:config") {
		return
	}

	if r.Method == http.MethodGet {
		respondWithJSON(w, http.StatusOK, a.config.Get())
		return
	}

	// Start from the current config so a partial body only changes what it names.
	newConfig := a.config.Get()
	if !decodeJSON(w, r, &newConfig) {
		return
	}
	if err := newConfig.validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.config.Update(newConfig); err != nil {
		a.logger.Error("Failed to update configuration", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save configuration: "+err.Error())
		return
	}

	a.logger.Info("Configuration updated via API. Address and database changes apply after a restart.")
	respondWithJSON(w, http.StatusOK, a.config.Get())
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, "server:read") {
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionShutdown, "Server is shutting down...")
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionRestart, "Server is restarting...")
}

func (a *ServerAPI) handleAction(w http.ResponseWriter, r *http.Request, action, message string) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, "server:control") {
		return
	}

	// One pending action at a time; repeats while it is queued are dropped
	// so nothing stale is left for the next run cycle.
	select {
	case a.actionChan <- action:
		a.logger.Warn("Server action initiated via API", "action", action)
	default:
		a.logger.Info("Server action already pending, ignoring", "action", action)
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})
}
