// Command agentkit is a thin runner over the agent runtime: run a prompt,
// list sessions, fork a session. The REPL and HTTP surfaces live outside
// this repository.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentkit/internal/agent"
	"github.com/haasonsaas/agentkit/internal/hooks"
	"github.com/haasonsaas/agentkit/internal/permission"
	"github.com/haasonsaas/agentkit/internal/sessions"
	"github.com/haasonsaas/agentkit/pkg/events"
)

func main() {
	root := &cobra.Command{
		Use:           "agentkit",
		Short:         "Run agent conversations against a model provider",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to agentkit.yaml")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newSessionsCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sessionRoot(cfg *Config) string {
	if cfg.SessionRoot != "" {
		return cfg.SessionRoot
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentkit"
	}
	return filepath.Join(home, ".agentkit")
}

func newRunCmd(configPath *string) *cobra.Command {
	var prompt string
	var resume string
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one prompt through the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" && len(args) > 0 {
				prompt = strings.Join(args, " ")
			}
			if prompt == "" {
				return fmt.Errorf("a prompt is required (-p or positional)")
			}

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := LoadConfig(*configPath, cwd)
			if err != nil {
				return err
			}
			provider, err := cfg.provider()
			if err != nil {
				return err
			}

			permMode := permission.Mode(cfg.PermissionMode)
			if mode != "" {
				permMode = permission.Mode(mode)
			}
			gate := &permission.Gate{
				Mode:         permMode,
				UserAnswerer: terminalAnswerer,
			}

			abort := &agent.Abort{}
			options := &agent.Options{
				Provider:               provider,
				Model:                  cfg.Model,
				APIKey:                 cfg.apiKey(),
				Cwd:                    cwd,
				MaxSteps:               cfg.MaxSteps,
				Tools:                  agent.BuiltinRegistry(cwd),
				AllowedTools:           cfg.AllowedTools,
				Gate:                   gate,
				Hooks:                  &hooks.Engine{},
				SessionRoot:            sessionRoot(cfg),
				Resume:                 resume,
				SettingSources:         cfg.SettingSources,
				InstructionFiles:       cfg.InstructionFiles,
				Agents:                 cfg.agents(),
				Commands:               cfg.Commands,
				Compaction:             cfg.compaction(),
				IncludePartialMessages: true,
				Abort:                  abort,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				abort.Set()
			}()

			run, err := agent.NewRuntime(options).Query(ctx, prompt)
			if err != nil {
				return err
			}
			return render(cmd, run)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt to run")
	cmd.Flags().StringVar(&resume, "resume", "", "session id to resume")
	cmd.Flags().StringVar(&mode, "permission-mode", "", "override permission mode")
	return cmd
}

func render(cmd *cobra.Command, run *agent.Run) error {
	out := cmd.OutOrStdout()
	for e := range run.Events() {
		switch ev := e.(type) {
		case *events.SystemInit:
			fmt.Fprintf(out, "session %s\n", ev.SessionID)
		case *events.AssistantDelta:
			fmt.Fprint(out, ev.TextDelta)
		case *events.AssistantMessage:
			fmt.Fprintf(out, "\n%s\n", ev.Text)
		case *events.ToolUse:
			fmt.Fprintf(out, "[tool] %s %s\n", ev.Name, string(ev.Input))
		case *events.ToolResult:
			if ev.IsError {
				fmt.Fprintf(out, "[tool error] %s: %s\n", ev.ErrorType, ev.ErrorMessage)
			}
		case *events.Result:
			fmt.Fprintf(out, "[%s] steps=%d\n", ev.StopReason, ev.Steps)
		}
	}
	return run.Err()
}

// terminalAnswerer reads an answer from stdin for interactive approvals and
// AskUserQuestion.
func terminalAnswerer(_ context.Context, q *events.UserQuestion) (string, error) {
	fmt.Fprintf(os.Stderr, "%s", q.Prompt)
	if len(q.Choices) > 0 {
		fmt.Fprintf(os.Stderr, " [%s]", strings.Join(q.Choices, "/"))
	}
	fmt.Fprint(os.Stderr, ": ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(newSessionsListCmd(configPath))
	cmd.AddCommand(newSessionsForkCmd(configPath))
	return cmd
}

func newSessionsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List session ids under the session root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := LoadConfig(*configPath, cwd)
			if err != nil {
				return err
			}
			dir := filepath.Join(sessionRoot(cfg), "sessions")
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			var ids []string
			for _, e := range entries {
				if e.IsDir() {
					ids = append(ids, e.Name())
				}
			}
			sort.Strings(ids)
			store := sessions.NewFileStore(sessionRoot(cfg))
			for _, id := range ids {
				md, _ := store.ReadMetadata(id)
				line := id
				if model, ok := md["model"].(string); ok && model != "" {
					line += "  model=" + model
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newSessionsForkCmd(configPath *string) *cobra.Command {
	var headSeq int64
	cmd := &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Fork a session at a chosen head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := LoadConfig(*configPath, cwd)
			if err != nil {
				return err
			}
			store := sessions.NewFileStore(sessionRoot(cfg))
			newID, err := store.ForkSession(args[0], headSeq, nil)
			if err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]string{"session_id": newID})
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
	cmd.Flags().Int64Var(&headSeq, "head-seq", 0, "fork at this seq (default: current head)")
	return cmd
}
