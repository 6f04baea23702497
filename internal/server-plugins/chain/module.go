package chain

import (
	"context"
	"log/slog"

	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/infrastructure"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"go.uber.org/fx"
)

func newDefinitionProvider(cfg config.DefinitionsConfig, logger *slog.Logger) *infrastructure.YAMLDefinitionProvider {
	return infrastructure.NewYAMLDefinitionProvider(cfg.ChainsDir, cfg.WorkflowsDir, logger.With("component", "chain-definitions"))
}

func newOrchestrator(definitions *infrastructure.YAMLDefinitionProvider, executor *toolstep.Executor, logger *slog.Logger) *domain.Orchestrator {
	return domain.NewOrchestrator(definitions, executor, logger.With("component", "orchestrator"))
}

func newJobRunner(
	lc fx.Lifecycle,
	orchestrator *domain.Orchestrator,
	collector metrics.Collector,
	cfg config.ExecutionConfig,
	logger *slog.Logger,
) *domain.JobRunner {
	tracker := domain.NewJobTracker(cfg.JobRetention, cfg.CleanupInterval)
	runner := domain.NewJobRunner(orchestrator, tracker, collector, cfg.EventBufferSize, logger.With("component", "job-runner"))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tracker.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping job runner", "jobs", tracker.Count())
			return runner.Shutdown(ctx)
		},
	})
	return runner
}

// registerPluginHooks stops the runner before waiting for event streams to drain. The
// runner's own stop hook runs after this one and is then a no-op.
func registerPluginHooks(lc fx.Lifecycle, runner *domain.JobRunner, plugin *ChainServerPlugin) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := runner.Shutdown(ctx); err != nil {
				return err
			}
			return plugin.Wait(ctx)
		},
	})
}

var Module = fx.Module("chain",
	fx.Provide(
		newDefinitionProvider,
		newOrchestrator,
		newJobRunner,
		// Chain server plugin
		NewChainServerPlugin,
		fx.Annotate(
			func(p *ChainServerPlugin) serverDomain.ServerPlugin { return p },
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
	fx.Invoke(registerPluginHooks),
)
