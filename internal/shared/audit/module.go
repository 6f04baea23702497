package audit

import (
	"log/slog"

	"go.uber.org/fx"
)

// historyPerResource bounds the audit events kept for each mission.
const historyPerResource = 500

var Module = fx.Module("audit",
	fx.Provide(
		func(logger *slog.Logger) *MemorySink {
			return NewMemorySink(logger, historyPerResource)
		},
		func(sink *MemorySink) EventSink { return sink },
		func(sink *MemorySink) HistoryReader { return sink },
	),
)
