// Package mcpserver exposes the knowledge graph as Model Context Protocol
// tools, so MCP clients such as coding agents can capture memories and
// query the graph over stdio.
package mcpserver

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/soundprediction/memoria"
)

const serverName = "memoria"
const serverVersion = "1.0.0"

// Server wires memoria tools into an MCP server.
type Server struct {
	client *memoria.Client
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New creates an MCP server with all graph tools registered. A nil logger
// falls back to the default.
func New(client *memoria.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		client: client,
		logger: logger,
	}

	s.mcp = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)
	s.registerTools()

	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("Starting MCP server on stdio", "server", serverName, "version", serverVersion)
	return server.ServeStdio(s.mcp)
}
