package onboarding

import (
	"context"
	"log/slog"

	mcpserver "github.com/alex-galey/mission-mcp/internal/server"
	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("onboarding",
	fx.Provide(
		// Concrete plugin for SetProvider in Invoke
		NewOnboardingServerPlugin,
		fx.Annotate(
			func(p *OnboardingServerPlugin) serverDomain.ServerPlugin { return p },
			fx.As(new(serverDomain.ServerPlugin)),
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, provider mcpserver.ActiveServerPluginProvider, p *OnboardingServerPlugin) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				p.SetProvider(provider)
				logger.Info("Onboarding plugin initialized")
				return nil
			},
		})
	}),
)
