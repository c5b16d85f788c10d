package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/pluginkit/pkg/deploy"
	"github.com/CTAG07/pluginkit/pkg/locate"
	"github.com/CTAG07/pluginkit/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	PageAddr       string            `json:"page_addr"`
	ApiAddr        string            `json:"api_addr"`
	LogLevel       string            `json:"log_level"`
	TrustedProxies []string          `json:"trusted_proxies"`
	DataDir        string            `json:"data_dir"`
	DatabasePath   string            `json:"database_path"`
	PageHeaders    map[string]string `json:"page_headers"`
}

// FragmentConfig holds where fragments live and how they are rendered.
type FragmentConfig struct {
	PluginDir string            `json:"plugin_dir"`
	TermBase  string            `json:"term_base"`
	Render    templating.Config `json:"render"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    ServerConfig      `json:"server_config"`
	Fragments FragmentConfig    `json:"fragment_config"`
	Theme     locate.ThemePaths `json:"theme_config"`
	Constants deploy.Map        `json:"constants"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			PageAddr:       ":7280",
			ApiAddr:        ":7281",
			LogLevel:       "info",
			TrustedProxies: []string{},
			DataDir:        "./data",
			DatabasePath:   "./data/pluginkit.db?_journal_mode=WAL&_busy_timeout=5000",
			PageHeaders: map[string]string{
				"Cache-Control":           "no-cache",
				"Content-Security-Policy": "default-src 'self'; style-src 'self' 'unsafe-inline';",
				"Content-Type":            "text/html; charset=utf-8",
			},
		},
		Fragments: FragmentConfig{
			PluginDir: "./data/fragments",
			TermBase:  "/tag",
			Render:    *templating.DefaultConfig(),
		},
		Theme: locate.ThemePaths{
			Stylesheet: "./data/theme/child",
			Template:   "./data/theme/parent",
		},
		Constants: deploy.Map{
			deploy.ConstEnvironment: "development",
			deploy.ConstPlatform:    "local",
		},
	}
}

// clone returns a copy that shares no slices or maps with c.
func (c Config) clone() Config {
	c.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	c.Server.PageHeaders = maps.Clone(c.Server.PageHeaders)
	c.Fragments.Render.Extensions = append([]string(nil), c.Fragments.Render.Extensions...)
	c.Constants = maps.Clone(c.Constants)
	return c
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	var errs []error
	if _, ok := parseLogLevel(c.Server.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log level '%s'", c.Server.LogLevel))
	}
	if c.Fragments.PluginDir == "" {
		errs = append(errs, errors.New("fragment_config.plugin_dir cannot be empty"))
	}
	if c.Fragments.Render.MaxDepth < 0 {
		errs = append(errs, errors.New("fragment_config.render.max_depth cannot be negative"))
	}
	if len(c.Fragments.Render.Extensions) == 0 {
		errs = append(errs, errors.New("fragment_config.render.extensions cannot be empty"))
	}
	return errors.Join(errs...)
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state
// (trusted proxies). It also serves the live theme paths and constants, so
// changes made through the API apply to the next lookup.
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	renderer     *templating.Renderer
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetRenderer registers the renderer that receives render config updates.
func (cm *ConfigManager) SetRenderer(r *templating.Renderer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.renderer = r
	if r != nil {
		render := cm.config.Fragments.Render
		r.SetConfig(&render)
	}
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		cm.logger = logger
	}
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.clone()
}

// Update validates the configuration, applies it, saves it to disk and
// refreshes derived state.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.validate(); err != nil {
		return err
	}
	newConfig = newConfig.clone()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	*cm.config = newConfig
	cm.refreshCache()
	if cm.renderer != nil {
		render := newConfig.Fragments.Render
		cm.renderer.SetConfig(&render)
	}

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ThemePaths implements locate.ThemeSource.
func (cm *ConfigManager) ThemePaths() (string, string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Theme.Stylesheet, cm.config.Theme.Template
}

// Lookup implements deploy.Constants.
func (cm *ConfigManager) Lookup(name string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	v, ok := cm.config.Constants[name]
	return v, ok
}

// PluginDir returns the directory fragments are served from.
func (cm *ConfigManager) PluginDir() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Fragments.PluginDir
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}
	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
			continue
		}
		if ip := net.ParseIP(t); ip != nil {
			ips = append(ips, ip)
		} else {
			cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}

func parseLogLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
