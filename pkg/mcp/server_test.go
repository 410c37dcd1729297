package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/byheaven/aitoy/pkg/budget"
	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
	"github.com/byheaven/aitoy/pkg/provider"
)

// fakeTracker implements tracker.Tracker for testing.
type fakeTracker struct {
	summaries []models.UsageSummary
	daily     []models.DailyUsage
	total     int64
}

func (f *fakeTracker) Record(_ context.Context, _ models.UsageRecord) error { return nil }
func (f *fakeTracker) QueryByClient(_ context.Context, _ string, _ time.Time) ([]models.UsageRecord, error) {
	return nil, nil
}
func (f *fakeTracker) TotalByClient(_ context.Context, _ string, _ time.Time) (int64, error) {
	return f.total, nil
}
func (f *fakeTracker) TotalByClientAndMode(_ context.Context, _ string, _ models.Mode, _ time.Time) (int64, error) {
	return f.total, nil
}
func (f *fakeTracker) Summary(_ context.Context, _ string) ([]models.UsageSummary, error) {
	return f.summaries, nil
}
func (f *fakeTracker) Daily(_ context.Context, _ string, _ int) ([]models.DailyUsage, error) {
	return f.daily, nil
}
func (f *fakeTracker) Close() error { return nil }

// fakeCache implements CacheStatter for testing.
type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats() (models.CacheStats, error) { return f.stats, nil }

// idleProvider fails the test if a tool ever reaches the provider.
type idleProvider struct{ t *testing.T }

func (p idleProvider) Name() string { return "test-model" }
func (p idleProvider) Generate(context.Context, string) (*provider.Result, error) {
	p.t.Error("provider called")
	return nil, nil
}
func (p idleProvider) GenerateWithReference(context.Context, string, []byte, string) (*provider.Result, error) {
	p.t.Error("provider called")
	return nil, nil
}

func newGenerationDeps(t *testing.T) (*generation.Service, *generation.Orchestrator) {
	t.Helper()
	svc := generation.NewService(prompt.NewComposer(prompt.DefaultValidator()), idleProvider{t})
	return svc, generation.NewOrchestrator(svc, generation.DefaultBatchConfig())
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name string, args any) ToolCallResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: raw})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`7`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(Deps{Tracker: &fakeTracker{}}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "aitoy" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{JSONRPC: "1.0", ID: json.RawMessage(`3`), Method: "ping"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	srv := New(Deps{}, "test")
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(Deps{}, "test")
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`4`), Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	srv := New(Deps{}, "test")
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/cancelled"}` + "\n"
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(Deps{}, "test")
	result := callTool(t, srv, "aitoy_nope", map[string]any{})
	if !result.IsError {
		t.Error("expected isError for unknown tool")
	}
}

func TestStatsTool(t *testing.T) {
	ft := &fakeTracker{summaries: []models.UsageSummary{
		{ClientID: "203.0.113.9", Mode: models.ModeVariations, RequestCount: 2, Requested: 6, Images: 5, Tokens: 25},
	}}
	srv := New(Deps{Tracker: ft}, "test")
	result := callTool(t, srv, "aitoy_stats", map[string]any{})

	text := result.Content[0].Text
	if !strings.Contains(text, "203.0.113.9") || !strings.Contains(text, "variations") {
		t.Errorf("stats output missing row: %s", text)
	}
	if !strings.Contains(text, "25") {
		t.Errorf("stats output missing tokens: %s", text)
	}
}

func TestStatsToolEmpty(t *testing.T) {
	srv := New(Deps{Tracker: &fakeTracker{}}, "test")
	result := callTool(t, srv, "aitoy_stats", map[string]any{})
	if result.Content[0].Text != "No usage data found." {
		t.Errorf("unexpected: %s", result.Content[0].Text)
	}
}

func TestDailyTool(t *testing.T) {
	ft := &fakeTracker{daily: []models.DailyUsage{{Day: "2026-10-16", RequestCount: 3, Images: 3, Tokens: 15}}}
	srv := New(Deps{Tracker: ft}, "test")
	result := callTool(t, srv, "aitoy_daily", map[string]any{"days": 3})
	if !strings.Contains(result.Content[0].Text, "2026-10-16") {
		t.Errorf("daily output missing day: %s", result.Content[0].Text)
	}
}

func TestBudgetToolNotConfigured(t *testing.T) {
	srv := New(Deps{}, "test")
	result := callTool(t, srv, "aitoy_budget", map[string]any{"client_id": "1.2.3.4"})
	if !strings.Contains(result.Content[0].Text, "not configured") {
		t.Errorf("unexpected: %s", result.Content[0].Text)
	}
}

func TestBudgetTool(t *testing.T) {
	ft := &fakeTracker{total: 40}
	enf := budget.New([]models.BudgetPolicy{
		{ClientID: "*", MaxTokens: 100, Period: models.BudgetDaily},
	}, ft)
	srv := New(Deps{Tracker: ft, Budget: enf}, "test")

	result := callTool(t, srv, "aitoy_budget", map[string]any{"client_id": "1.2.3.4"})
	text := result.Content[0].Text
	if !strings.Contains(text, "daily") || !strings.Contains(text, "40.0%") {
		t.Errorf("budget output: %s", text)
	}
}

func TestCacheStatsTool(t *testing.T) {
	fc := &fakeCache{stats: models.CacheStats{Entries: 10, Hits: 7, Misses: 3}}
	srv := New(Deps{Cache: fc}, "test")
	result := callTool(t, srv, "aitoy_cache_stats", map[string]any{})

	text := result.Content[0].Text
	if !strings.Contains(text, "70.0%") {
		t.Errorf("cache stats output missing hit rate: %s", text)
	}
}

func TestCacheStatsToolNotConfigured(t *testing.T) {
	srv := New(Deps{}, "test")
	result := callTool(t, srv, "aitoy_cache_stats", map[string]any{})
	if !strings.Contains(result.Content[0].Text, "not configured") {
		t.Errorf("unexpected: %s", result.Content[0].Text)
	}
}

func TestHistoryTool(t *testing.T) {
	store, err := history.New(models.HistoryConfig{Enabled: true, DBPath: t.TempDir() + "/history.db"})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	hash, prefix := history.HashClient("198.51.100.7")
	ctx := context.Background()
	for i, ok := range []bool{true, false} {
		err := store.Append(ctx, models.HistoryEntry{
			RequestID:    "req-1",
			ClientHash:   hash,
			ClientPrefix: prefix,
			Mode:         models.ModeVariations,
			Slot:         i,
			Prompt:       "a cute cat",
			Success:      ok,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	srv := New(Deps{History: store}, "test")
	result := callTool(t, srv, "aitoy_history", map[string]any{"client_id": "198.51.100.7"})
	text := result.Content[0].Text
	if !strings.Contains(text, "failed") || !strings.Contains(text, "a cute cat") {
		t.Errorf("history output: %s", text)
	}

	result = callTool(t, srv, "aitoy_history", map[string]any{"client_id": "198.51.100.7", "success_only": true})
	if strings.Contains(result.Content[0].Text, "failed") {
		t.Errorf("success_only returned a failure: %s", result.Content[0].Text)
	}

	result = callTool(t, srv, "aitoy_history", map[string]any{"since": "yesterday"})
	if !result.IsError {
		t.Error("expected isError for bad since date")
	}
}

func TestEstimateCostTool(t *testing.T) {
	svc, orch := newGenerationDeps(t)
	srv := New(Deps{Service: svc, Orchestrator: orch}, "test")

	result := callTool(t, srv, "aitoy_estimate_cost", map[string]any{
		"prompt":         "a cute cat",
		"with_reference": true,
		"mode":           "variations",
		"count":          10,
	})
	// (5 + 3) per image, clamped to 4 slots.
	text := result.Content[0].Text
	if !strings.Contains(text, "Per image:        8") || !strings.Contains(text, "Estimated total:  32") {
		t.Errorf("estimate output: %s", text)
	}

	result = callTool(t, srv, "aitoy_estimate_cost", map[string]any{"prompt": "a cat", "mode": "angles"})
	if !strings.Contains(result.Content[0].Text, "Slots:            4") {
		t.Errorf("angles estimate: %s", result.Content[0].Text)
	}

	result = callTool(t, srv, "aitoy_estimate_cost", map[string]any{"prompt": "a cat", "mode": "sideways"})
	if !result.IsError {
		t.Error("expected isError for unknown mode")
	}
}

func TestComposePromptTool(t *testing.T) {
	svc, orch := newGenerationDeps(t)
	srv := New(Deps{Service: svc, Orchestrator: orch}, "test")

	result := callTool(t, srv, "aitoy_compose_prompt", map[string]any{
		"prompt": "a cute cat",
		"mode":   "variations",
		"count":  2,
	})
	text := result.Content[0].Text
	if !strings.Contains(text, "(variation 1)") || !strings.Contains(text, "(variation 2)") {
		t.Errorf("compose output: %s", text)
	}
	if strings.Contains(text, "(variation 3)") {
		t.Errorf("compose produced too many slots: %s", text)
	}

	result = callTool(t, srv, "aitoy_compose_prompt", map[string]any{"prompt": "   "})
	if !result.IsError {
		t.Error("expected isError for empty prompt")
	}

	result = callTool(t, srv, "aitoy_compose_prompt", map[string]any{"prompt": "a violent robot"})
	if !result.IsError || !strings.Contains(result.Content[0].Text, "inappropriate") {
		t.Errorf("expected banned term rejection, got %+v", result)
	}
}
