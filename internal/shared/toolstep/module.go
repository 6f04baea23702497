package toolstep

import (
	"log/slog"

	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("toolstep",
	fx.Provide(func(backend Backend, collector metrics.Collector, logger *slog.Logger) *Executor {
		return NewExecutor(backend, collector, logger.With("component", "executor"))
	}),
)
