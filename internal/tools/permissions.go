package tools

import "fmt"

// PermissionMode defines how privileged commands are authorized.
type PermissionMode string

const (
	// PermissionDefault asks the operator before every command.
	PermissionDefault PermissionMode = "default"
	// PermissionBypass runs commands without asking.
	PermissionBypass PermissionMode = "bypassPermissions"
	// PermissionPlan refuses to run commands; auto-run tools still work.
	PermissionPlan PermissionMode = "plan"
)

// ParsePermissionMode validates a configured mode. Empty means default.
func ParsePermissionMode(value string) (PermissionMode, error) {
	switch PermissionMode(value) {
	case "", PermissionDefault:
		return PermissionDefault, nil
	case PermissionBypass:
		return PermissionBypass, nil
	case PermissionPlan:
		return PermissionPlan, nil
	default:
		return "", fmt.Errorf("unknown permission mode %q", value)
	}
}

// Permissions controls tool access behavior.
type Permissions struct {
	Mode PermissionMode
}

// ShouldPrompt returns true if a tool of this kind needs confirmation.
func (p Permissions) ShouldPrompt(kind Kind) bool {
	switch p.Mode {
	case PermissionBypass, PermissionPlan:
		return false
	default:
		return kind == KindPrivileged
	}
}

// AllowsTool returns true if a tool of this kind may run at all.
func (p Permissions) AllowsTool(kind Kind) bool {
	return p.Mode != PermissionPlan || kind != KindPrivileged
}
