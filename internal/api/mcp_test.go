package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/firewatch/internal/analysis"
	"github.com/kalambet/firewatch/internal/geocode"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/risk"
	"github.com/kalambet/firewatch/internal/weather"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func withLatest(rep analysis.Report) *mockEngine {
	return &mockEngine{latestFn: func() (analysis.Report, bool) { return rep, true }}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Engine: &mockEngine{}}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_TopFireRisk(t *testing.T) {
	handler := mcpTopFireRisk(MCPDeps{Engine: withLatest(sampleReport())})

	result, err := handler(context.Background(), makeCallToolRequest("top_fire_risk", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var ranked []analysis.RankedResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &ranked); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Place.Name != "Lubbock" || ranked[0].Risk.Level != risk.Extreme {
		t.Fatalf("ranked = %+v", ranked)
	}
}

func TestMCPTool_TopFireRisk_Limit(t *testing.T) {
	handler := mcpTopFireRisk(MCPDeps{Engine: withLatest(sampleReport())})

	result, err := handler(context.Background(), makeCallToolRequest("top_fire_risk", map[string]interface{}{
		"limit": 1,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ranked []analysis.RankedResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &ranked); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Rank != 1 {
		t.Fatalf("ranked = %+v", ranked)
	}
}

func TestMCPTool_TopFireRisk_NoRun(t *testing.T) {
	handler := mcpTopFireRisk(MCPDeps{Engine: &mockEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("top_fire_risk", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result before the first run")
	}
}

func TestMCPTool_TopFireRisk_Refresh(t *testing.T) {
	eng := &mockEngine{}
	handler := mcpTopFireRisk(MCPDeps{Engine: eng})

	result, err := handler(context.Background(), makeCallToolRequest("top_fire_risk", map[string]interface{}{
		"refresh": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if eng.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", eng.runs.Load())
	}
}

func TestMCPTool_TopFireRisk_EmptyRun(t *testing.T) {
	handler := mcpTopFireRisk(MCPDeps{Engine: withLatest(analysis.Report{Empty: true, Reason: "all 3 categories failed"})})

	result, err := handler(context.Background(), makeCallToolRequest("top_fire_risk", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatal("an empty run is not an error")
	}
	if text := toolText(t, result); !strings.Contains(text, "all 3 categories failed") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_LookupLocation(t *testing.T) {
	eng := &mockEngine{lookupFn: func(_ context.Context, q string) ([]analysis.Location, error) {
		if q != "Boise" {
			t.Errorf("query = %q", q)
		}
		return []analysis.Location{{
			Place: geocode.Place{Name: "Boise", State: "Idaho", Lat: 43.6, Lon: -116.2},
			Grid:  weather.Grid{Office: "BOI", X: 132, Y: 87},
		}}, nil
	}}
	handler := mcpLookupLocation(MCPDeps{Engine: eng})

	result, err := handler(context.Background(), makeCallToolRequest("lookup_location", map[string]interface{}{
		"query": "Boise",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var locs []analysis.Location
	if err := json.Unmarshal([]byte(toolText(t, result)), &locs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(locs) != 1 || locs[0].Grid.Office != "BOI" {
		t.Fatalf("locations = %+v", locs)
	}
}

func TestMCPTool_LookupLocation_EmptyResult(t *testing.T) {
	handler := mcpLookupLocation(MCPDeps{Engine: &mockEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("lookup_location", map[string]interface{}{
		"query": "Atlantis",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_LookupLocation_MissingQuery(t *testing.T) {
	handler := mcpLookupLocation(MCPDeps{Engine: &mockEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("lookup_location", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_AssessLocation(t *testing.T) {
	eng := &mockEngine{assessFn: func(_ context.Context, lat, lon float64, label string) (pipeline.Enriched, error) {
		if lat != 36.17 || lon != -115.14 || label != "Las Vegas" {
			t.Errorf("Assess(%v, %v, %q)", lat, lon, label)
		}
		return sampleEnriched("Las Vegas", risk.High, 6), nil
	}}
	handler := mcpAssessLocation(MCPDeps{Engine: eng})

	result, err := handler(context.Background(), makeCallToolRequest("assess_location", map[string]interface{}{
		"lat":  36.17,
		"lon":  -115.14,
		"name": "Las Vegas",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var got pipeline.Enriched
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Risk.Level != risk.High {
		t.Errorf("level = %v, want high", got.Risk.Level)
	}
}

func TestMCPTool_AssessLocation_Error(t *testing.T) {
	eng := &mockEngine{assessFn: func(context.Context, float64, float64, string) (pipeline.Enriched, error) {
		return pipeline.Enriched{}, errors.New("forecast unavailable")
	}}
	handler := mcpAssessLocation(MCPDeps{Engine: eng})

	result, err := handler(context.Background(), makeCallToolRequest("assess_location", map[string]interface{}{
		"lat": 1.0,
		"lon": 2.0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_AssessLocation_MissingCoordinate(t *testing.T) {
	handler := mcpAssessLocation(MCPDeps{Engine: &mockEngine{}})

	result, err := handler(context.Background(), makeCallToolRequest("assess_location", map[string]interface{}{
		"lat": 1.0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result without lon")
	}
}

func TestMCPResource_Latest(t *testing.T) {
	handler := mcpResourceLatest(MCPDeps{Engine: withLatest(sampleReport())})

	contents, err := handler(context.Background(), makeReadResourceRequest("firewatch://latest"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var rep analysis.Report
	if err := json.Unmarshal([]byte(tc.Text), &rep); err != nil {
		t.Fatalf("failed to parse report JSON: %v", err)
	}
	if rep.ID != "run-1" {
		t.Fatalf("report id = %q", rep.ID)
	}
}

func TestMCPResource_Latest_NoRun(t *testing.T) {
	handler := mcpResourceLatest(MCPDeps{Engine: &mockEngine{}})
	if _, err := handler(context.Background(), makeReadResourceRequest("firewatch://latest")); err == nil {
		t.Fatal("expected error before the first run")
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := MCPDeps{Engine: withLatest(sampleReport())}
	topHandler := mcpTopFireRisk(deps)
	lookupHandler := mcpLookupLocation(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := topHandler(context.Background(), makeCallToolRequest("top_fire_risk", nil)); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("lookup_location", map[string]interface{}{"query": "Reno"})
			if _, err := lookupHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
