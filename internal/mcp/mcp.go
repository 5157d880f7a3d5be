// Package mcp registers MCP server tools into a tool registry.
//
// Transport details are the host's concern: a configured server hands the
// runtime a ToolServer whose tools are wrapped and namespaced. Registration
// is idempotent so repeated runtime initialization is safe.
package mcp

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentkit/internal/tools"
)

// ToolServer is the surface an MCP server exposes to the runtime.
type ToolServer interface {
	// Tools lists the server's tools.
	Tools() []tools.Tool
}

// ServerConfig configures one MCP server entry.
type ServerConfig struct {
	// Server supplies the tools. Entries without a server are ignored
	// (remote transports are dialed by the host before configuring the
	// runtime).
	Server ToolServer
}

// wrapped namespaces a server tool as mcp__<server>__<tool>.
type wrapped struct {
	server string
	tool   tools.Tool
}

func (w *wrapped) Name() string {
	return fmt.Sprintf("mcp__%s__%s", w.server, w.tool.Name())
}

func (w *wrapped) Description() string         { return w.tool.Description() }
func (w *wrapped) InputSchema() map[string]any { return w.tool.InputSchema() }

func (w *wrapped) Run(ctx context.Context, input map[string]any, tc *tools.Context) (any, error) {
	return w.tool.Run(ctx, input, tc)
}

// RegisterServers wraps every configured server's tools into the registry.
// Already-registered names are left untouched.
func RegisterServers(registry *tools.Registry, servers map[string]ServerConfig) {
	for key, cfg := range servers {
		if cfg.Server == nil {
			continue
		}
		for _, t := range cfg.Server.Tools() {
			w := &wrapped{server: key, tool: t}
			if _, exists := registry.Get(w.Name()); exists {
				continue
			}
			registry.Register(w)
		}
	}
}
