package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/prompt"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"aitoy_stats":          handleStats,
	"aitoy_daily":          handleDaily,
	"aitoy_budget":         handleBudget,
	"aitoy_history":        handleHistory,
	"aitoy_cache_stats":    handleCacheStats,
	"aitoy_estimate_cost":  handleEstimateCost,
	"aitoy_compose_prompt": handleComposePrompt,
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

var clientArg = str("Client identifier (IP or forwarded address); omit for all clients")

// requestProps describes the generation request fields shared by the
// estimate and compose tools.
var requestProps = map[string]any{
	"prompt":        str("Free-text description of the toy"),
	"style":         str("blindBox, plush, keychain or figure"),
	"character":     str("Character to render with the style template"),
	"material":      str("Material override, e.g. vinyl or resin"),
	"color_scheme":  str("pastel, vibrant, monochrome or natural"),
	"custom_prompt": str("Free-form prompt used instead of the template"),
	"language":      str("Prompt language: en or zh"),
	"mode":          str("single, variations or angles"),
	"count":         integer("Variation count, clamped into the configured range"),
}

var allTools = []ToolDefinition{
	{
		Name:        "aitoy_stats",
		Description: "Show token ledger totals grouped by client and mode.",
		InputSchema: object(map[string]any{"client_id": clientArg}),
	},
	{
		Name:        "aitoy_daily",
		Description: "Show tokens charged per UTC day.",
		InputSchema: object(map[string]any{"client_id": clientArg, "days": integer("Number of days, default 7")}),
	},
	{
		Name:        "aitoy_budget",
		Description: "Show budget usage against every policy that applies to a client.",
		InputSchema: object(map[string]any{"client_id": clientArg}),
	},
	{
		Name:        "aitoy_history",
		Description: "List recent generations, newest first.",
		InputSchema: object(map[string]any{
			"client_id":    clientArg,
			"mode":         str("Filter by mode (optional)"),
			"since":        str("Start date in YYYY-MM-DD format (optional)"),
			"success_only": map[string]any{"type": "boolean", "description": "Only successful generations"},
			"limit":        integer("Maximum entries, default 20"),
		}),
	},
	{
		Name:        "aitoy_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: object(map[string]any{}),
	},
	{
		Name:        "aitoy_estimate_cost",
		Description: "Estimate the token cost of a request before generating.",
		InputSchema: object(withRef(requestProps), "prompt"),
	},
	{
		Name:        "aitoy_compose_prompt",
		Description: "Show the exact provider prompts a request would produce, one per slot.",
		InputSchema: object(requestProps, "prompt"),
	},
}

func withRef(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["with_reference"] = map[string]any{"type": "boolean", "description": "Whether a reference image is attached"}
	return out
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

func parseArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type clientArgs struct {
	ClientID string `json:"client_id"`
	Days     int    `json:"days"`
}

func handleStats(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Tracker == nil {
		return textResult("Token ledger is not configured.")
	}
	var args clientArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	rows, err := s.deps.Tracker.Summary(ctx, args.ClientID)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleDaily(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Tracker == nil {
		return textResult("Token ledger is not configured.")
	}
	var args clientArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	rows, err := s.deps.Tracker.Daily(ctx, args.ClientID, args.Days)
	if err != nil {
		return errorResult("Error fetching daily usage: " + err.Error())
	}
	return textResult(formatDaily(rows))
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if !s.deps.Budget.Enabled() {
		return textResult("Budget enforcement is not configured.")
	}
	var args clientArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	statuses, err := s.deps.Budget.Status(ctx, args.ClientID)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

type historyArgs struct {
	ClientID    string `json:"client_id"`
	Mode        string `json:"mode"`
	Since       string `json:"since"`
	SuccessOnly bool   `json:"success_only"`
	Limit       int    `json:"limit"`
}

func handleHistory(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.History == nil {
		return textResult("Generation history is not configured.")
	}
	var args historyArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	opts := models.HistoryQueryOpts{
		Mode:        models.Mode(args.Mode),
		SuccessOnly: args.SuccessOnly,
		Limit:       args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if args.ClientID != "" {
		opts.ClientHash, _ = history.HashClient(args.ClientID)
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.deps.History.Query(ctx, opts)
	if err != nil {
		return errorResult("Error querying history: " + err.Error())
	}
	return textResult(formatHistory(entries))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.deps.Cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.deps.Cache.Stats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type requestArgs struct {
	Prompt        string `json:"prompt"`
	Style         string `json:"style"`
	Character     string `json:"character"`
	Material      string `json:"material"`
	ColorScheme   string `json:"color_scheme"`
	CustomPrompt  string `json:"custom_prompt"`
	Language      string `json:"language"`
	Mode          string `json:"mode"`
	Count         int    `json:"count"`
	WithReference bool   `json:"with_reference"`
}

func (a requestArgs) request() models.GenerationRequest {
	return models.GenerationRequest{
		Prompt:       a.Prompt,
		Style:        models.Style(a.Style),
		Character:    a.Character,
		Material:     a.Material,
		ColorScheme:  a.ColorScheme,
		CustomPrompt: a.CustomPrompt,
		Language:     models.Language(a.Language),
	}
}

func parseToolMode(s string) (models.Mode, error) {
	if s == "" || s == string(models.ModeSingle) {
		return models.ModeSingle, nil
	}
	mode, ok := generation.ParseMode(strings.TrimSpace(s))
	if !ok {
		return "", errors.New("unsupported mode " + s)
	}
	return mode, nil
}

// slots returns how many provider calls mode would make.
func (s *Server) slots(mode models.Mode, count int) int {
	switch mode {
	case models.ModeSingle:
		return 1
	case models.ModeAngles:
		return prompt.AngleCount()
	default:
		if s.deps.Orchestrator == nil {
			return generation.DefaultBatchConfig().DefaultCount
		}
		return s.deps.Orchestrator.ClampCount(count)
	}
}

func handleEstimateCost(_ context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Service == nil {
		return textResult("Generation service is not configured.")
	}
	var args requestArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	mode, err := parseToolMode(args.Mode)
	if err != nil {
		return errorResult(err.Error())
	}

	req := args.request()
	if args.WithReference {
		// Only the presence of a reference image affects the estimate.
		req.ReferenceImage = "attached"
	}
	n := s.slots(mode, args.Count)
	return textResult(formatEstimate(mode,
		s.deps.Service.EstimateTokenCost(req), n,
		s.deps.Service.EstimateBatchCost(req, n),
		s.deps.Service.Costs().PerImage))
}

func handleComposePrompt(_ context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.deps.Service == nil {
		return textResult("Generation service is not configured.")
	}
	var args requestArgs
	if err := parseArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	mode, err := parseToolMode(args.Mode)
	if err != nil {
		return errorResult(err.Error())
	}

	job, err := s.deps.Service.Compose(args.request())
	if err != nil {
		return errorResult("Request rejected: " + err.Error())
	}
	jobs := []generation.Job{job}
	if mode != models.ModeSingle && s.deps.Orchestrator != nil {
		jobs = s.deps.Orchestrator.Plan(mode, job, args.Count)
	}
	prompts := make([]string, len(jobs))
	for i, j := range jobs {
		prompts[i] = j.Prompt
	}
	return textResult(formatPrompts(mode, prompts))
}
