package exec

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentkit/internal/tools"
)

func TestBashToolRunsCommand(t *testing.T) {
	tc := &tools.Context{Cwd: t.TempDir()}
	out, err := BashTool{}.Run(context.Background(), map[string]any{"command": "echo hi; echo err >&2"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["stdout"] != "hi\n" || m["stderr"] != "err\n" || m["exit_code"] != 0 {
		t.Errorf("out = %#v", m)
	}
}

func TestBashToolNonZeroExit(t *testing.T) {
	tc := &tools.Context{Cwd: t.TempDir()}
	out, err := BashTool{}.Run(context.Background(), map[string]any{"command": "exit 3"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if out.(map[string]any)["exit_code"] != 3 {
		t.Errorf("out = %#v", out)
	}
}

func TestBashToolTimeout(t *testing.T) {
	tc := &tools.Context{Cwd: t.TempDir()}
	start := time.Now()
	out, err := BashTool{}.Run(context.Background(), map[string]any{
		"command": "sleep 10",
		"timeout": float64(100),
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not applied")
	}
	if out.(map[string]any)["killed"] != true {
		t.Errorf("out = %#v", out)
	}
}

func TestBashToolRequiresCommand(t *testing.T) {
	if _, err := (BashTool{}).Run(context.Background(), map[string]any{}, &tools.Context{Cwd: t.TempDir()}); err == nil {
		t.Error("missing command accepted")
	}
}
