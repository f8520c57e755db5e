package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolCatalog(t *testing.T) {
	var c toolCatalog

	assert.False(t, c.add(ToolInfo{}))
	assert.True(t, c.add(ToolInfo{Name: "b", Category: CategoryTelemetry}))
	assert.True(t, c.add(ToolInfo{Name: "c"}))
	assert.True(t, c.add(ToolInfo{Name: "a"}))
	assert.False(t, c.add(ToolInfo{Name: "b", Description: "again"}))

	assert.Equal(t, 3, c.len())
	names := []string{}
	for _, ti := range c.list() {
		names = append(names, ti.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	list := c.list()
	list[0].Name = "mutated"
	assert.Equal(t, "a", c.list()[0].Name)
}
