package mcp

import (
	"cmp"
	"slices"
	"sync"
)

// ToolCategory is the event category recorded for a tool's calls.
type ToolCategory string

// CategoryTelemetry is for tools that inspect the telemetry pipeline.
const CategoryTelemetry ToolCategory = "telemetry"

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
}

// toolCatalog keeps the tools registered on a server ordered by name.
// Tool names double as event commands, so each name is accepted once.
type toolCatalog struct {
	mu    sync.RWMutex
	tools []ToolInfo
}

// add inserts info and reports whether the name was free.
func (c *toolCatalog) add(info ToolInfo) bool {
	if info.Name == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, found := slices.BinarySearchFunc(c.tools, info.Name, func(t ToolInfo, name string) int {
		return cmp.Compare(t.Name, name)
	})
	if found {
		return false
	}
	c.tools = slices.Insert(c.tools, i, info)
	return true
}

// list returns a copy of the catalog.
func (c *toolCatalog) list() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tools)
}

func (c *toolCatalog) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}
