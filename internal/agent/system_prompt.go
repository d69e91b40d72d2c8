package agent

import (
	"fmt"
	"strings"
)

// PromptContext describes the environment the assistant works in.
type PromptContext struct {
	// ToolNames lists the tools offered to the model.
	ToolNames []string
	// CommandTool is the name of the confirmation-gated command tool, if offered.
	CommandTool string
	// Shell is the shell commands run in, e.g. bash.
	Shell string
	// Dir is the working directory of the shell.
	Dir string
	// OS is the host operating system.
	OS string
}

// DefaultSystemPrompt returns the base system prompt for tool usage.
func DefaultSystemPrompt(pc PromptContext) string {
	builder := strings.Builder{}
	builder.WriteString("You are shellai, a terminal assistant that helps the operator get work done on their machine.\n")
	if pc.OS != "" || pc.Shell != "" {
		builder.WriteString(fmt.Sprintf("The operator is on %s using %s.\n", fallback(pc.OS, "an unknown OS"), fallback(pc.Shell, "a POSIX shell")))
	}
	if pc.Dir != "" {
		builder.WriteString("The working directory is " + pc.Dir + ".\n")
	}
	if len(pc.ToolNames) > 0 {
		builder.WriteString("Available tools: ")
		builder.WriteString(strings.Join(pc.ToolNames, ", "))
		builder.WriteString(".\n")
	}
	if pc.CommandTool != "" {
		builder.WriteString(fmt.Sprintf("Use %s to run commands. The operator confirms each command before it runs "+
			"and may stop it, so run one focused command per call and explain what it does. "+
			"The shell is persistent: directory changes and variables carry over. "+
			"Avoid interactive programs that wait for input.\n", pc.CommandTool))
	}
	builder.WriteString("When a tool is required, call it instead of guessing.\n")
	builder.WriteString("Provide clear, concise responses.")
	return builder.String()
}

func fallback(value string, otherwise string) string {
	if value == "" {
		return otherwise
	}
	return value
}
