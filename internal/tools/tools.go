package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/shellai/shellai/internal/llm/openai"
)

// ToolResult is the result of a tool invocation.
type ToolResult struct {
	// Content holds the tool output payload.
	Content string
	// IsError reports whether the tool failed.
	IsError bool
}

// Spec describes a tool to the model.
type Spec interface {
	Name() string
	Description() string
	Schema() map[string]any
}

// Tool is an auto-run tool executed without confirmation.
type Tool interface {
	Spec
	Run(ctx context.Context, input json.RawMessage) (ToolResult, error)
}

// Kind tells the router how a catalog entry is executed.
type Kind int

const (
	// KindAutoRun tools are invoked directly.
	KindAutoRun Kind = iota
	// KindPrivileged is the confirmation-gated command tool.
	KindPrivileged
)

func (k Kind) String() string {
	if k == KindPrivileged {
		return "privileged"
	}
	return "auto-run"
}

// Entry is a catalog item. Its kind is fixed when the catalog is built.
type Entry struct {
	Kind Kind
	Spec Spec
	// Tool is set for auto-run entries.
	Tool Tool
}

// Catalog holds the tools offered to the model.
type Catalog struct {
	// entries stores tools keyed by name.
	entries map[string]Entry
	// order preserves the deterministic tool ordering for request payloads.
	order []string
}

// NewCatalog builds a catalog from the privileged command tool (which may be
// nil) followed by the auto-run tools. Duplicate and unnamed tools are
// skipped.
func NewCatalog(privileged Spec, autoRun ...Tool) *Catalog {
	catalog := &Catalog{entries: map[string]Entry{}}
	if privileged != nil {
		catalog.add(Entry{Kind: KindPrivileged, Spec: privileged})
	}
	for _, tool := range autoRun {
		if tool == nil {
			continue
		}
		catalog.add(Entry{Kind: KindAutoRun, Spec: tool, Tool: tool})
	}
	return catalog
}

func (c *Catalog) add(entry Entry) {
	name := entry.Spec.Name()
	if name == "" {
		return
	}
	if _, exists := c.entries[name]; exists {
		return
	}
	// Preserve input order while de-duplicating tool names.
	c.entries[name] = entry
	c.order = append(c.order, name)
}

// Lookup returns the entry registered under name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c.entries[name]
	return entry, ok
}

// Len reports the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Names returns the tool names in deterministic order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	if len(c.order) > 0 {
		return append([]string(nil), c.order...)
	}
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns OpenAI-compatible tool definitions.
func (c *Catalog) Specs() []openai.Tool {
	names := c.Names()
	specs := make([]openai.Tool, 0, len(names))
	for _, name := range names {
		entry := c.entries[name]
		specs = append(specs, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        entry.Spec.Name(),
				Description: entry.Spec.Description(),
				Parameters:  entry.Spec.Schema(),
			},
		})
	}
	return specs
}

// FilterTools drops auto-run tools whose names are listed in disabled.
func FilterTools(tools []Tool, disabled []string) []Tool {
	disabledSet := toNameSet(disabled)
	if len(disabledSet) == 0 {
		return tools
	}
	var filtered []Tool
	for _, tool := range tools {
		if disabledSet[tool.Name()] {
			continue
		}
		filtered = append(filtered, tool)
	}
	return filtered
}

// toNameSet converts a list of names to a lookup set.
func toNameSet(names []string) map[string]bool {
	set := make(map[string]bool)
	for _, name := range names {
		if name == "" {
			continue
		}
		set[name] = true
	}
	return set
}
