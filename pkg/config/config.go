package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MISSION_MCP"

// Backend types
const (
	BackendLocal    = "local"
	BackendMCPStdio = "mcp_stdio"
	BackendMCPSSE   = "mcp_sse"
)

// Hop retry modes
const (
	RetryResume  = "resume"
	RetryRestart = "restart"
)

type TransportConfig struct {
	Type string `mapstructure:"type"` // "stdio" or "sse"
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type BackendCacheConfig struct {
	Enabled  bool                     `mapstructure:"enabled"`
	TTL      time.Duration            `mapstructure:"ttl"`
	Policies map[string]time.Duration `mapstructure:"policies"`
}

type BackendConfig struct {
	Type         string             `mapstructure:"type"` // "local", "mcp_stdio" or "mcp_sse"
	Command      string             `mapstructure:"command"`
	Args         []string           `mapstructure:"args"`
	Env          []string           `mapstructure:"env"`
	URL          string             `mapstructure:"url"`
	Headers      map[string]string  `mapstructure:"headers"`
	Timeout      time.Duration      `mapstructure:"timeout"`
	BlockedTools []string           `mapstructure:"blocked_tools"`
	Cache        BackendCacheConfig `mapstructure:"cache"`
}

type ExecutionConfig struct {
	RetryMode               string        `mapstructure:"retry_mode"`
	FailMissionOnHopFailure bool          `mapstructure:"fail_mission_on_hop_failure"`
	EventBufferSize         int           `mapstructure:"event_buffer_size"`
	JobRetention            time.Duration `mapstructure:"job_retention"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval"`
}

type DefinitionsConfig struct {
	ChainsDir    string `mapstructure:"chains_dir"`
	WorkflowsDir string `mapstructure:"workflows_dir"`
}

type PluginsConfig struct {
	Disabled []string `mapstructure:"disabled"`
}

type ServerConfig struct {
	Transport     TransportConfig   `mapstructure:"transport"`
	LogLevel      string            `mapstructure:"log_level"`
	LogFormat     string            `mapstructure:"log_format"`
	LogBufferSize int               `mapstructure:"log_buffer_size"`
	CORS          CORSConfig        `mapstructure:"cors"`
	Backend       BackendConfig     `mapstructure:"backend"`
	Execution     ExecutionConfig   `mapstructure:"execution"`
	Definitions   DefinitionsConfig `mapstructure:"definitions"`
	Plugins       PluginsConfig     `mapstructure:"plugins"`
}

func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Transport: TransportConfig{
			Type: "stdio",
			Host: "localhost",
			Port: 8080,
		},
		LogLevel:      "info",
		LogFormat:     "json",
		LogBufferSize: 1000,
		CORS: CORSConfig{
			Enabled:        false,
			AllowedOrigins: []string{},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		},
		Backend: BackendConfig{
			Type:         BackendLocal,
			Args:         []string{},
			Env:          []string{},
			Headers:      map[string]string{},
			Timeout:      60 * time.Second,
			BlockedTools: []string{},
			Cache: BackendCacheConfig{
				Enabled:  false,
				TTL:      5 * time.Minute,
				Policies: map[string]time.Duration{},
			},
		},
		Execution: ExecutionConfig{
			RetryMode:               RetryResume,
			FailMissionOnHopFailure: false,
			EventBufferSize:         64,
			JobRetention:            10 * time.Minute,
			CleanupInterval:         1 * time.Minute,
		},
		Definitions: DefinitionsConfig{
			ChainsDir:    "./definitions/chains",
			WorkflowsDir: "./definitions/workflows",
		},
		Plugins: PluginsConfig{
			Disabled: []string{},
		},
	}
}

// LoadConfig reads configuration into the global viper instance.
func LoadConfig() (*ServerConfig, error) {
	return Load(viper.GetViper())
}

// Load reads defaults, the optional config file and MISSION_MCP_* environment variables.
func Load(v *viper.Viper) (*ServerConfig, error) {
	config := DefaultConfig()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mission-mcp/")
	v.AddConfigPath("$HOME/.mission-mcp/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper, config *ServerConfig) {
	// Server configuration defaults
	v.SetDefault("transport.type", config.Transport.Type)
	v.SetDefault("transport.host", config.Transport.Host)
	v.SetDefault("transport.port", config.Transport.Port)
	v.SetDefault("log_level", config.LogLevel)
	v.SetDefault("log_format", config.LogFormat)
	v.SetDefault("log_buffer_size", config.LogBufferSize)

	// CORS defaults
	v.SetDefault("cors.enabled", config.CORS.Enabled)
	v.SetDefault("cors.allowed_origins", config.CORS.AllowedOrigins)
	v.SetDefault("cors.allowed_methods", config.CORS.AllowedMethods)
	v.SetDefault("cors.allowed_headers", config.CORS.AllowedHeaders)
	v.SetDefault("cors.max_age", config.CORS.MaxAge)

	// Tool backend defaults
	v.SetDefault("backend.type", config.Backend.Type)
	v.SetDefault("backend.command", config.Backend.Command)
	v.SetDefault("backend.args", config.Backend.Args)
	v.SetDefault("backend.env", config.Backend.Env)
	v.SetDefault("backend.url", config.Backend.URL)
	v.SetDefault("backend.headers", config.Backend.Headers)
	v.SetDefault("backend.timeout", config.Backend.Timeout)
	v.SetDefault("backend.blocked_tools", config.Backend.BlockedTools)
	v.SetDefault("backend.cache.enabled", config.Backend.Cache.Enabled)
	v.SetDefault("backend.cache.ttl", config.Backend.Cache.TTL)
	v.SetDefault("backend.cache.policies", config.Backend.Cache.Policies)

	// Execution defaults
	v.SetDefault("execution.retry_mode", config.Execution.RetryMode)
	v.SetDefault("execution.fail_mission_on_hop_failure", config.Execution.FailMissionOnHopFailure)
	v.SetDefault("execution.event_buffer_size", config.Execution.EventBufferSize)
	v.SetDefault("execution.job_retention", config.Execution.JobRetention)
	v.SetDefault("execution.cleanup_interval", config.Execution.CleanupInterval)

	// Definition directories
	v.SetDefault("definitions.chains_dir", config.Definitions.ChainsDir)
	v.SetDefault("definitions.workflows_dir", config.Definitions.WorkflowsDir)

	v.SetDefault("plugins.disabled", config.Plugins.Disabled)
}

func validateConfig(config *ServerConfig) error {
	switch config.Transport.Type {
	case "stdio", "sse":
	default:
		return fmt.Errorf("invalid transport type: %s", config.Transport.Type)
	}

	if config.Transport.Port <= 0 || config.Transport.Port > 65535 {
		return fmt.Errorf("the port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format: %s", config.LogFormat)
	}

	switch config.Backend.Type {
	case BackendLocal:
	case BackendMCPStdio:
		if config.Backend.Command == "" {
			return fmt.Errorf("the backend command cannot be empty for %s", BackendMCPStdio)
		}
	case BackendMCPSSE:
		if config.Backend.URL == "" {
			return fmt.Errorf("the backend URL cannot be empty for %s", BackendMCPSSE)
		}
	default:
		return fmt.Errorf("invalid backend type: %s", config.Backend.Type)
	}

	if config.Backend.Timeout < 0 {
		return fmt.Errorf("the backend timeout cannot be negative")
	}

	if config.Execution.RetryMode != RetryResume && config.Execution.RetryMode != RetryRestart {
		return fmt.Errorf("invalid retry mode: %s", config.Execution.RetryMode)
	}

	if config.Execution.EventBufferSize <= 0 {
		return fmt.Errorf("the event buffer size must be positive")
	}

	if config.Execution.JobRetention <= 0 || config.Execution.CleanupInterval <= 0 {
		return fmt.Errorf("job retention and cleanup interval must be positive")
	}

	return nil
}
