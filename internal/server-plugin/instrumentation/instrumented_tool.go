package instrumentation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/mark3labs/mcp-go/mcp"
)

// WrapTool decorates a plugin tool so every call is logged and measured. A panic in the
// handler is turned into an error result instead of taking the transport down.
func WrapTool(tool domain.Tool, pluginID string, collector metrics.Collector, logger *slog.Logger) domain.Tool {
	if collector == nil {
		collector = metrics.NewNoOpCollector()
	}
	next := tool.Handler

	handler := func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		started := time.Now()
		logger.Debug("Tool call received",
			"plugin", pluginID,
			"tool", tool.Name)

		defer func() {
			if r := recover(); r != nil {
				logger.Error("Tool handler panicked",
					"plugin", pluginID,
					"tool", tool.Name,
					"panic", r)
				result = mcp.NewToolResultError(fmt.Sprintf("internal error in %s", tool.Name))
				err = nil
			}

			failed := err != nil || (result != nil && result.IsError)
			collector.RecordCommand(ctx, tool.Name, time.Since(started), failed)
			if failed {
				logger.Warn("Tool call failed",
					"plugin", pluginID,
					"tool", tool.Name,
					"duration", time.Since(started),
					"error", err)
				return
			}
			logger.Debug("Tool call completed",
				"plugin", pluginID,
				"tool", tool.Name,
				"duration", time.Since(started))
		}()

		return next(ctx, request)
	}

	return domain.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		Builder:     tool.Builder,
		Handler:     handler,
	}
}
