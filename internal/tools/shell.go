package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shellai/shellai/internal/llm/openai"
)

// ShellToolName is the name the model uses for the command tool.
const ShellToolName = "Shell"

// ShellTool describes the confirmation-gated command tool. It has no Run
// method; the router hands its calls to the command session.
type ShellTool struct {
	// ShellName is shown to the model, e.g. "bash".
	ShellName string
}

// Name returns the tool identifier used in tool calls.
func (t *ShellTool) Name() string {
	return ShellToolName
}

// Description tells the model how commands are run.
func (t *ShellTool) Description() string {
	shell := t.ShellName
	if shell == "" {
		shell = "shell"
	}
	return fmt.Sprintf("Run a command in a persistent interactive %s session and return its output. "+
		"The operator confirms every command before it runs and may stop it. "+
		"Working directory and variables persist between commands.", shell)
}

// Schema describes the command payload.
func (t *ShellTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Command line to execute.",
			},
		},
		"required": []string{"command"},
	}
}

// ParseCommand extracts the command text from decoded arguments.
func ParseCommand(arguments any) (string, error) {
	fields, ok := arguments.(map[string]any)
	if !ok {
		return "", errors.New("arguments must be an object")
	}
	if raw, ok := fields[openai.RawArgumentsKey].(string); ok && len(fields) == 1 {
		return "", fmt.Errorf("arguments are not valid JSON: %s", raw)
	}
	command, _ := fields["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return "", errors.New("command is required")
	}
	return command, nil
}
