package agent

import "github.com/haasonsaas/agentkit/internal/project"

// projectSystemPrompt assembles the base system prompt the loop restamps at
// position 0 every iteration.
func projectSystemPrompt(options *Options) string {
	return project.BuildSystemPrompt(options.SettingSources, options.projectDir(), options.InstructionFiles)
}
