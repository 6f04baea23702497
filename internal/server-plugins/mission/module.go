package mission

import (
	"log/slog"

	serverDomain "github.com/alex-galey/mission-mcp/internal/server-plugin/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/application"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/infrastructure"
	"github.com/alex-galey/mission-mcp/internal/shared/audit"
	"github.com/alex-galey/mission-mcp/internal/shared/metrics"
	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"go.uber.org/fx"
)

type serviceParams struct {
	fx.In
	Repo      domain.MissionRepository
	Executor  *toolstep.Executor
	Catalog   toolstep.Catalog `optional:"true"`
	Sink      audit.EventSink
	History   audit.HistoryReader `optional:"true"`
	Collector metrics.Collector
	Config    config.ExecutionConfig
	Logger    *slog.Logger
}

func newMissionService(p serviceParams) *application.MissionService {
	return application.NewMissionService(
		p.Repo,
		p.Executor,
		p.Catalog,
		p.Sink,
		p.History,
		p.Collector,
		p.Config,
		p.Logger.With("component", "mission-service"),
	)
}

var Module = fx.Module("mission",
	fx.Provide(
		// Mission repository
		fx.Annotate(
			infrastructure.NewMemoryMissionRepository,
			fx.As(new(domain.MissionRepository)),
		),
		// Mission service
		newMissionService,
		// Mission server plugin
		NewMissionServerPlugin,
		fx.Annotate(
			func(p *MissionServerPlugin) serverDomain.ServerPlugin { return p },
			fx.ResultTags(`group:"server_plugins"`),
		),
	),
)
