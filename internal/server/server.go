package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	plugins "github.com/alex-galey/mission-mcp/internal/server-plugin/application"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"
)

// registerServerHooks uses fx.Hook to manage the server's lifecycle.
func registerServerHooks(lc fx.Lifecycle, cfg *config.ServerConfig, mcpServer *server.MCPServer, adapter *MCPAdapter, registry *plugins.ServerPluginRegistry, logger *slog.Logger) {
	var (
		httpServer *http.Server
		sseServer  *server.SSEServer
		stopStdio  context.CancelFunc
	)

	registry.RegisterHooks(lc)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Registering all server plugins...")
			if err := adapter.RegisterAllServerPlugins(ctx); err != nil {
				return fmt.Errorf("failed to register server plugins: %w", err)
			}

			switch cfg.Transport.Type {
			case "sse":
				addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
				httpServer = &http.Server{
					Addr:              addr,
					ReadHeaderTimeout: 10 * time.Second,
				}
				sseServer = server.NewSSEServer(mcpServer,
					server.WithHTTPServer(httpServer),
					server.WithBaseURL("http://"+addr),
					server.WithKeepAlive(true),
				)
				httpServer.Handler = CORSMiddleware(&cfg.CORS)(sseServer)

				logger.Info("Starting MCP server with 'sse' transport.", "address", addr)
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("SSE server failed", "error", err)
					}
				}()
			case "stdio":
				logger.Info("Starting MCP server with 'stdio' transport.")
				stdioCtx, cancel := context.WithCancel(context.Background())
				stopStdio = cancel
				stdio := server.NewStdioServer(mcpServer)
				stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
				go func() {
					if err := stdio.Listen(stdioCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error("Stdio server failed", "error", err)
					}
				}()
			default:
				return fmt.Errorf("unknown transport type: %s", cfg.Transport.Type)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stopStdio != nil {
				stopStdio()
				logger.Info("Stdio server shutdown.")
			}
			if sseServer != nil {
				logger.Info("Shutting down SSE server gracefully...")
				shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				return sseServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	})
}
