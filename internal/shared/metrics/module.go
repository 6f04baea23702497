package metrics

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

func newCollector(lc fx.Lifecycle, logger *slog.Logger) Collector {
	collector := NewLogCollector(logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return collector.Close()
		},
	})
	return collector
}

var Module = fx.Module("metrics",
	fx.Provide(newCollector),
)
