package fxapp

import (
	"log"

	"github.com/alex-galey/mission-mcp/internal/server"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/onboarding"
	"github.com/alex-galey/mission-mcp/internal/shared/audit"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	toolbackend "github.com/alex-galey/mission-mcp/internal/tool-backend"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"github.com/alex-galey/mission-mcp/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// New builds the server application. Extra options are appended after the modules.
func New(opts ...fx.Option) *fx.App {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Default to a verbose logger for debug level
	var fxLogger fx.Option = fx.WithLogger(
		func() fxevent.Logger {
			return &fxevent.ConsoleLogger{W: log.Writer()}
		},
	)

	if cfg.LogLevel != "debug" {
		fxLogger = fx.NopLogger
	}

	options := []fx.Option{
		fxLogger,
		fx.Supply(cfg),
		config.Module,
		logger.Module,
		metrics.Module,
		audit.Module,
		toolbackend.Module,
		toolstep.Module,
		server.Module,
		mission.Module,
		chain.Module,
		onboarding.Module,
	}
	return fx.New(append(options, opts...)...)
}
