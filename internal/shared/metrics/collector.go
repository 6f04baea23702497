package metrics

import (
	"context"
	"log/slog"
	"time"
)

type Collector interface {
	RecordToolExecution(ctx context.Context, toolID string, duration time.Duration, success bool)
	RecordHopTransition(ctx context.Context, missionID, hopID, from, to string)
	RecordJob(ctx context.Context, chainID, status string, duration time.Duration)
	RecordCommand(ctx context.Context, command string, duration time.Duration, failed bool)
	Close() error
}

type NoOpCollector struct{}

func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (c *NoOpCollector) RecordToolExecution(ctx context.Context, toolID string, duration time.Duration, success bool) {
}

func (c *NoOpCollector) RecordHopTransition(ctx context.Context, missionID, hopID, from, to string) {
}

func (c *NoOpCollector) RecordJob(ctx context.Context, chainID, status string, duration time.Duration) {
}

func (c *NoOpCollector) RecordCommand(ctx context.Context, command string, duration time.Duration, failed bool) {
}

func (c *NoOpCollector) Close() error {
	return nil
}

// LogCollector emits every measurement as a debug log record.
type LogCollector struct {
	logger *slog.Logger
}

func NewLogCollector(logger *slog.Logger) *LogCollector {
	return &LogCollector{logger: logger.With("component", "metrics")}
}

func (c *LogCollector) RecordToolExecution(ctx context.Context, toolID string, duration time.Duration, success bool) {
	c.logger.DebugContext(ctx, "tool execution",
		"tool_id", toolID,
		"duration", duration,
		"success", success)
}

func (c *LogCollector) RecordHopTransition(ctx context.Context, missionID, hopID, from, to string) {
	c.logger.DebugContext(ctx, "hop transition",
		"mission_id", missionID,
		"hop_id", hopID,
		"from", from,
		"to", to)
}

func (c *LogCollector) RecordJob(ctx context.Context, chainID, status string, duration time.Duration) {
	c.logger.DebugContext(ctx, "job finished",
		"chain_id", chainID,
		"status", status,
		"duration", duration)
}

func (c *LogCollector) RecordCommand(ctx context.Context, command string, duration time.Duration, failed bool) {
	c.logger.DebugContext(ctx, "command handled",
		"command", command,
		"duration", duration,
		"failed", failed)
}

func (c *LogCollector) Close() error {
	return nil
}
