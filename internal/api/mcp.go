package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/signex/internal/briefing"
	"github.com/kalambet/signex/internal/health"
	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/watch"
)

const briefingURI = "signex://briefing"

// NewMCPServer creates an MCP server with all signex tools and resources
// registered.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"signex",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("signex monitors watches (topics of interest), runs data sources for them and writes reports and alerts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_watch",
			mcp.WithDescription("Run one watch cycle: fetch from selected sources, write the report and alerts, and return the run summary."),
			mcp.WithString("name", mcp.Description("Watch name (directory under watches/)"), mcp.Required()),
			mcp.WithString("lens", mcp.Description("Report lens: deep_insight, flash_brief, dual_take or timeline_trace. Inferred from memory when omitted.")),
			mcp.WithString("since", mcp.Description("Only analyze items fetched at or after this RFC 3339 time or YYYY-MM-DD date")),
		),
		mcpRunWatch(deps),
	)

	s.AddTool(
		mcp.NewTool("list_watches",
			mcp.WithDescription("List watches with status, check interval, last run and whether each is due."),
		),
		mcpListWatches(deps),
	)

	s.AddTool(
		mcp.NewTool("source_health",
			mcp.WithDescription("Report per-source call counters, failure rates and sources with 3+ consecutive failures."),
		),
		mcpSourceHealth(deps),
	)

	s.AddTool(
		mcp.NewTool("run_stats",
			mcp.WithDescription("Aggregate analysis runs by watch, by date and in total."),
		),
		mcpRunStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			briefingURI,
			"Briefing",
			mcp.WithResourceDescription("Situational briefing: active and due watches, today's reports and alerts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceBriefing(deps),
	)

	return s
}

func mcpRunWatch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		opts, err := runner.ParseOptions(req.GetString("lens", ""), req.GetString("since", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Runner.Run(context.WithoutCancel(ctx), name, opts)
		if errors.Is(err, watch.ErrNotFound) {
			return mcpError(fmt.Sprintf("watch %q not found", name)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("watch cycle failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListWatches(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses, err := deps.Workspace.Statuses(deps.now())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list watches: %v", err)), nil
		}
		if statuses == nil {
			statuses = []watch.Status{}
		}
		return mcpJSON(statuses)
	}
}

func mcpSourceHealth(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := health.Load(deps.Store)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(rep)
	}
}

func mcpRunStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Store.RunStats()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}
		return mcpJSON(stats)
	}
}

func mcpResourceBriefing(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := briefing.Build(deps.Workspace.Root, deps.now(), "")
		if err != nil {
			return nil, fmt.Errorf("failed to build briefing: %w", err)
		}

		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal briefing: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
