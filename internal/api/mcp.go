package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/firewatch/internal/analysis"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  Engine
	Version string
}

// NewMCPServer creates an MCP server exposing fire-risk tools and the latest
// report as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"firewatch",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("firewatch ranks US locations by current wildfire risk from weather.gov forecasts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("top_fire_risk",
			mcp.WithDescription("Return the highest fire-risk locations from the latest analysis run."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of locations (default all ranked)")),
			mcp.WithBoolean("refresh", mcp.Description("Run a fresh analysis first; this can take minutes")),
		),
		mcpTopFireRisk(deps),
	)

	s.AddTool(
		mcp.NewTool("lookup_location",
			mcp.WithDescription("Find US places matching a name and resolve their forecast grid."),
			mcp.WithString("query", mcp.Description("Place name, optionally with state, e.g. \"Flagstaff, AZ\""), mcp.Required()),
		),
		mcpLookupLocation(deps),
	)

	s.AddTool(
		mcp.NewTool("assess_location",
			mcp.WithDescription("Fetch the current forecast for a coordinate and classify its fire risk."),
			mcp.WithNumber("lat", mcp.Description("Latitude"), mcp.Required()),
			mcp.WithNumber("lon", mcp.Description("Longitude"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Optional label for the location")),
		),
		mcpAssessLocation(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"firewatch://latest",
			"Latest Report",
			mcp.WithResourceDescription("The most recent analysis report as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLatest(deps),
	)

	return s
}

func mcpTopFireRisk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			rep analysis.Report
			ok  bool
		)
		if req.GetBool("refresh", false) {
			r, err := deps.Engine.Run(ctx)
			if err != nil {
				return mcpError(fmt.Sprintf("analysis run failed: %v", err)), nil
			}
			rep, ok = r, true
		} else {
			rep, ok = deps.Engine.Latest()
		}
		if !ok {
			return mcpError("no analysis run has completed yet; call again with refresh=true"), nil
		}
		if rep.Empty {
			return mcpText(fmt.Sprintf("The latest run found no candidates: %s", rep.Reason)), nil
		}

		results := rep.Results
		if limit := req.GetInt("limit", 0); limit > 0 && limit < len(results) {
			results = results[:limit]
		}
		return mcpJSON(results)
	}
}

func mcpLookupLocation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		locs, err := deps.Engine.Lookup(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if len(locs) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(locs)
	}
}

func mcpAssessLocation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		lat, err := req.RequireFloat("lat")
		if err != nil {
			return mcpError("lat is required"), nil
		}
		lon, err := req.RequireFloat("lon")
		if err != nil {
			return mcpError("lon is required"), nil
		}
		res, err := deps.Engine.Assess(ctx, lat, lon, req.GetString("name", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("assessment failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceLatest(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rep, ok := deps.Engine.Latest()
		if !ok {
			return nil, fmt.Errorf("no analysis run has completed yet")
		}
		b, err := json.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
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
