package plugins

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"go.uber.org/fx"
)

// ServerPluginRegistry holds the server plugins contributed to the application graph and
// tracks which of them are active.
type ServerPluginRegistry struct {
	plugins  map[string]domain.ServerPlugin
	active   map[string]bool
	disabled map[string]bool
	logger   *slog.Logger
	mu       sync.RWMutex
}

type ServerPluginRegistryParams struct {
	fx.In
	Logger        *slog.Logger
	PluginsConfig config.PluginsConfig
	ServerPlugins []domain.ServerPlugin `group:"server_plugins"`
}

// NewServerPluginRegistry creates a registry and registers every plugin of the group.
// Plugins listed in plugins.disabled are registered but stay inactive.
func NewServerPluginRegistry(params ServerPluginRegistryParams) *ServerPluginRegistry {
	r := &ServerPluginRegistry{
		plugins:  make(map[string]domain.ServerPlugin),
		active:   make(map[string]bool),
		disabled: make(map[string]bool),
		logger:   params.Logger,
	}
	for _, id := range params.PluginsConfig.Disabled {
		r.disabled[id] = true
	}
	for _, p := range params.ServerPlugins {
		if err := r.Register(p); err != nil {
			r.logger.Error("Failed to register server plugin",
				"plugin", p.ID(),
				"error", err)
		}
	}
	return r
}

// Register adds a plugin and activates it unless disabled by configuration.
func (r *ServerPluginRegistry) Register(plugin domain.ServerPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[plugin.ID()]; exists {
		return &DuplicatePluginError{ID: plugin.ID()}
	}
	r.plugins[plugin.ID()] = plugin
	r.active[plugin.ID()] = !r.disabled[plugin.ID()]

	r.logger.Debug("ServerPlugin registered with registry",
		"plugin", plugin.ID(),
		"name", plugin.Name(),
		"version", plugin.Version(),
		"active", r.active[plugin.ID()])
	return nil
}

// SetActive toggles a registered plugin. It reports false for unknown plugins.
func (r *ServerPluginRegistry) SetActive(pluginID string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[pluginID]; !ok {
		return false
	}
	if r.active[pluginID] != active {
		r.logger.Info("ServerPlugin activation changed",
			"plugin", pluginID,
			"active", active)
	}
	r.active[pluginID] = active
	return true
}

// IsServerPluginActive checks if a specific plugin is currently active.
func (r *ServerPluginRegistry) IsServerPluginActive(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[pluginID]
}

// GetActiveServerPlugins returns the active plugins ordered by id.
func (r *ServerPluginRegistry) GetActiveServerPlugins() []domain.ServerPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		if r.active[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]domain.ServerPlugin, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.plugins[id])
	}
	return out
}

// RegisterHooks logs the registry state once the application starts.
func (r *ServerPluginRegistry) RegisterHooks(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			active := r.GetActiveServerPlugins()
			ids := make([]string, 0, len(active))
			for _, p := range active {
				ids = append(ids, p.ID())
			}
			r.logger.Info("Server plugins ready",
				"active", ids,
				"disabled", len(r.disabled))
			return nil
		},
	})
}

// DuplicatePluginError is returned when two plugins share an id.
type DuplicatePluginError struct {
	ID string
}

func (e *DuplicatePluginError) Error() string {
	return "server plugin already registered: " + e.ID
}
