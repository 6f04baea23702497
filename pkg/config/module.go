package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	// Provides specific, smaller configs for consumers
	fx.Provide(func(cfg *ServerConfig) TransportConfig { return cfg.Transport }),
	fx.Provide(func(cfg *ServerConfig) BackendConfig { return cfg.Backend }),
	fx.Provide(func(cfg *ServerConfig) ExecutionConfig { return cfg.Execution }),
	fx.Provide(func(cfg *ServerConfig) DefinitionsConfig { return cfg.Definitions }),
	fx.Provide(func(cfg *ServerConfig) PluginsConfig { return cfg.Plugins }),
	fx.Provide(func(cfg *ServerConfig) *CORSConfig { return &cfg.CORS }),
)
