package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvail/prefd/internal/settings"
)

// NewMCPServer creates an MCP server exposing the settings engine as tools
// and resources.
func NewMCPServer(m *settings.Manager) *server.MCPServer {
	s := server.NewMCPServer(
		"prefd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prefd — typed, validated application settings with change tracking."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_settings",
			mcp.WithDescription("List all settings with their current values, defaults, and validators."),
			mcp.WithString("group", mcp.Description("Restrict the listing to one group")),
		),
		mcpListSettings(m),
	)

	s.AddTool(
		mcp.NewTool("get_setting",
			mcp.WithDescription("Read the current value of a setting."),
			mcp.WithString("key", mcp.Description("Qualified key, e.g. audio.volume"), mcp.Required()),
		),
		mcpGetSetting(m),
	)

	s.AddTool(
		mcp.NewTool("set_setting",
			mcp.WithDescription("Write a new value to a setting. The value is validated before it is stored."),
			mcp.WithString("key", mcp.Description("Qualified key, e.g. audio.volume"), mcp.Required()),
			mcp.WithString("value", mcp.Description("New value as JSON, e.g. 7, true, \"dark\", or [\"a\",\"b\"]"), mcp.Required()),
		),
		mcpSetSetting(m),
	)

	s.AddTool(
		mcp.NewTool("reset_setting",
			mcp.WithDescription("Restore a setting to its default value."),
			mcp.WithString("key", mcp.Description("Qualified key, e.g. audio.volume"), mcp.Required()),
		),
		mcpResetSetting(m),
	)

	s.AddResource(
		mcp.NewResource(
			"prefd://settings",
			"All Settings",
			mcp.WithResourceDescription("Every setting with its current value, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(m),
	)

	return s
}

func mcpListSettings(m *settings.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		only := req.GetString("group", "")

		views := []settingView{}
		for _, g := range m.Groups() {
			if only != "" && g.Key() != only {
				continue
			}
			for _, s := range g.Settings() {
				current, err := g.Get(s.Key)
				if err != nil {
					return mcpError(fmt.Sprintf("reading %s.%s: %v", g.Key(), s.Key, err)), nil
				}
				views = append(views, viewOf(g.Key(), s, current))
			}
		}
		if only != "" && len(views) == 0 {
			return mcpError(fmt.Sprintf("unknown group %q", only)), nil
		}

		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal settings: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSetting(m *settings.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}

		v, err := m.Get(key)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get %q: %v", key, err)), nil
		}
		b, err := json.Marshal(map[string]any{"key": key, "value": v.Interface()})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal value: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSetting(m *settings.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		rawJSON, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		var raw any
		if err := json.Unmarshal([]byte(rawJSON), &raw); err != nil {
			return mcpError(fmt.Sprintf("value is not valid JSON: %v", err)), nil
		}
		v, err := decodeValue(m, key, raw)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to decode value for %q: %v", key, err)), nil
		}
		if err := m.Set(ctx, key, v); err != nil {
			return mcpError(fmt.Sprintf("failed to set %q: %v", key, err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, v)), nil
	}
}

func mcpResetSetting(m *settings.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		if err := m.ResetSetting(ctx, key); err != nil {
			return mcpError(fmt.Sprintf("failed to reset %q: %v", key, err)), nil
		}
		return mcpText(fmt.Sprintf("Reset %s to its default", key)), nil
	}
}

func mcpResourceSettings(m *settings.Manager) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		views := []settingView{}
		for _, g := range m.Groups() {
			for _, s := range g.Settings() {
				current, err := g.Get(s.Key)
				if err != nil {
					return nil, fmt.Errorf("reading %s.%s: %w", g.Key(), s.Key, err)
				}
				views = append(views, viewOf(g.Key(), s, current))
			}
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
