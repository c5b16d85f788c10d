package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CTAG07/pluginkit/pkg/deploy"
	"github.com/CTAG07/pluginkit/pkg/helpers"
	"github.com/CTAG07/pluginkit/pkg/hooks"
	"github.com/CTAG07/pluginkit/pkg/taxonomy"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// envPrefix prefixes environment variables that back undefined constants.
const envPrefix = "PLUGINKIT_"

func main() {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run("./config.json", actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			os.Exit(1)
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("pluginkit has shut down.")
}

// run hosts both servers and returns whenever the server is shut down or restarted.
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logLevel, _ := parseLogLevel(config.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	for _, dir := range []string{config.Server.DataDir, config.Fragments.PluginDir} {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		logger.Info("Closing database connection.")
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	if err = taxonomy.SetupSchema(db); err != nil {
		return "", fmt.Errorf("failed to setup taxonomy schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		return "", fmt.Errorf("failed to setup auth schema: %w", err)
	}

	store, err := taxonomy.NewStore(db)
	if err != nil {
		return "", fmt.Errorf("failed to create term store: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger.With("component", "store"))

	// The helpers bundle is built at priority 2; the server is assembled at
	// the default priority and can rely on it.
	registry := hooks.NewRegistry()
	registry.SetLogger(logger)
	provider := helpers.Register(registry, helpers.Options{
		Logger:     logger,
		Theme:      cm,
		Templating: &config.Fragments.Render,
		Terms:      store,
		Constants:  deploy.Chain{cm, deploy.Env{Prefix: envPrefix}},
		TermBase:   config.Fragments.TermBase,
	})

	var server *Server
	registry.Add(hooks.EventStartup, hooks.DefaultPriority, func(ctx context.Context) error {
		h := provider.MustGet()
		cm.SetRenderer(h.Renderer)
		server = NewServer(cm, logger, db, store, h, actionChan)
		return nil
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = registry.Do(startCtx, hooks.EventStartup)
	cancelStart()
	if err != nil {
		return "", fmt.Errorf("startup hooks failed: %w", err)
	}

	pageHttpServer := &http.Server{Addr: config.Server.PageAddr, Handler: server.pageMux}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting page server", "address", pageHttpServer.Addr)
		if err := pageHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Page server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping servers for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = pageHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Page server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	return action, nil
}
