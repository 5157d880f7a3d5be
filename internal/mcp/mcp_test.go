package mcp

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentkit/internal/tools"
)

type staticTool struct{ name string }

func (s staticTool) Name() string                { return s.name }
func (s staticTool) Description() string         { return "static" }
func (s staticTool) InputSchema() map[string]any { return nil }
func (s staticTool) Run(context.Context, map[string]any, *tools.Context) (any, error) {
	return "ok", nil
}

type staticServer struct{ tools []tools.Tool }

func (s staticServer) Tools() []tools.Tool { return s.tools }

func TestRegisterServersNamespacesAndIsIdempotent(t *testing.T) {
	registry := tools.NewRegistry()
	servers := map[string]ServerConfig{
		"notes": {Server: staticServer{tools: []tools.Tool{staticTool{name: "search"}}}},
	}

	RegisterServers(registry, servers)
	if _, ok := registry.Get("mcp__notes__search"); !ok {
		t.Fatalf("names = %v", registry.Names())
	}

	RegisterServers(registry, servers)
	if got := len(registry.Names()); got != 1 {
		t.Errorf("re-registration duplicated tools: %v", registry.Names())
	}
}

func TestRegisterServersSkipsNilServer(t *testing.T) {
	registry := tools.NewRegistry()
	RegisterServers(registry, map[string]ServerConfig{"remote": {}})
	if got := len(registry.Names()); got != 0 {
		t.Errorf("names = %v", registry.Names())
	}
}
