package toolbackend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"go.uber.org/fx"
)

// Backends is the set of values this package contributes to the application graph.
type Backends struct {
	fx.Out
	Backend toolstep.Backend
	Catalog toolstep.Catalog
}

type catalogBackend interface {
	toolstep.Backend
	toolstep.Catalog
}

// NewBackendFromConfig builds the tool backend selected by configuration, wrapped with the
// invocation cache when enabled and with the blocked tool guard.
func NewBackendFromConfig(lc fx.Lifecycle, cfg *config.ServerConfig, logger *slog.Logger) (Backends, error) {
	backendLogger := logger.With("component", "tool-backend")

	var base catalogBackend
	switch cfg.Backend.Type {
	case config.BackendLocal:
		base = NewLocalBackend(backendLogger)
	case config.BackendMCPStdio, config.BackendMCPSSE:
		mcpBackend := NewMCPBackend(cfg.Backend, backendLogger)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				backendLogger.Info("Closing MCP tool server session")
				return mcpBackend.Close()
			},
		})
		base = mcpBackend
	default:
		return Backends{}, fmt.Errorf("unknown backend type: %s", cfg.Backend.Type)
	}

	var backend toolstep.Backend = base
	if cfg.Backend.Cache.Enabled {
		cache := NewInvocationCache(base, cfg.Backend.Cache, backendLogger)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				cache.Stop()
				return nil
			},
		})
		backend = cache
		backendLogger.Info("Invocation caching enabled", "cache_ttl", cfg.Backend.Cache.TTL)
	} else {
		backendLogger.Info("Invocation caching disabled")
	}

	if len(cfg.Backend.BlockedTools) > 0 {
		backend = NewGuardedBackend(backend, cfg.Backend.BlockedTools)
	}

	return Backends{Backend: backend, Catalog: base}, nil
}

var Module = fx.Module("tool-backend",
	fx.Provide(NewBackendFromConfig),
)
