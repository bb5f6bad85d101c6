// Package mcpserver exposes the tool registry over the Model Context Protocol
// on stdio. Every registry tool becomes an MCP tool with the same name and
// parameters; results and errors are returned as JSON text content.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"OpenMCP-Goals/internal/tools"
	"OpenMCP-Goals/pkg/logger"
)

// Name is the server name announced during the MCP handshake.
const Name = "goal-agent"

// Version is set at build time via ldflags.
var Version = "dev"

// New builds an MCP server with one tool per registry entry.
func New(registry *tools.Registry) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, tool := range registry.Tools() {
		s.AddTool(Definition(tool), Handler(registry, tool.Name))
	}
	return s
}

// Definition converts a registry tool into its MCP schema.
func Definition(tool tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(tool.Description),
		mcp.WithReadOnlyHintAnnotation(tool.ReadOnly),
	}
	for _, p := range tool.Params {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		if len(p.Enum) > 0 {
			props = append(props, mcp.Enum(p.Enum...))
		}
		switch p.Type {
		case tools.TypeArray:
			if p.Items != "" {
				props = append(props, mcp.Items(map[string]any{"type": p.Items}))
			}
			opts = append(opts, mcp.WithArray(p.Name, props...))
		case tools.TypeObject:
			opts = append(opts, mcp.WithObject(p.Name, props...))
		default:
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(tool.Name, opts...)
}

// Handler forwards an MCP tool call to the registry.
func Handler(registry *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, ok := registry.CallJSON(ctx, name, args)
		if !ok {
			return mcp.NewToolResultError(string(payload)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
// Protocol traffic owns stdout, so transport errors go to the application logger.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Named("mcp").Handler(), slog.LevelError))
	logger.Named("mcp").Info("MCP stdio 服务已启动", slog.String("server", Name), slog.String("version", Version))
	return stdio.Listen(ctx, in, out)
}
