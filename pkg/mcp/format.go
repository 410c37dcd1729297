package mcp

import (
	"fmt"
	"strings"

	"github.com/byheaven/aitoy/pkg/models"
)

func shortClient(id string) string {
	if len(id) > 20 {
		return id[:8] + "..." + id[len(id)-8:]
	}
	return id
}

// formatSummary renders ledger totals as a text table.
func formatSummary(rows []models.UsageSummary) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-11s %8s %9s %7s %8s\n",
		"Client", "Mode", "Requests", "Requested", "Images", "Tokens")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %-11s %8d %9d %7d %8d\n",
			shortClient(r.ClientID), r.Mode, r.RequestCount, r.Requested, r.Images, r.Tokens)
	}
	return b.String()
}

func formatDaily(rows []models.DailyUsage) string {
	if len(rows) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %8s %7s %8s\n", "Day", "Requests", "Images", "Tokens")
	b.WriteString(strings.Repeat("-", 36) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-10s %8d %7d %8d\n", r.Day, r.RequestCount, r.Images, r.Tokens)
	}
	return b.String()
}

// formatBudgetStatus renders budget usage per policy.
func formatBudgetStatus(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return "No budget policies apply."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-11s %-8s %10s %10s %10s %6s\n",
		"Client", "Mode", "Period", "Max", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 82) + "\n")
	for _, s := range statuses {
		mode := string(s.Policy.Mode)
		if mode == "" {
			mode = "all"
		}
		pct := float64(0)
		if s.Policy.MaxTokens > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxTokens) * 100
		}
		fmt.Fprintf(&b, "%-20s %-11s %-8s %10d %10d %10d %5.1f%%\n",
			shortClient(s.Policy.ClientID), mode, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining, pct)
	}
	return b.String()
}

func formatHistory(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No history entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-19s %-8s %-11s %4s %-7s %6s  %s\n",
		"Time", "Client", "Mode", "Slot", "Result", "Tokens", "Prompt")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, e := range entries {
		res := "ok"
		if !e.Success {
			res = "failed"
		}
		p := e.Prompt
		if len(p) > 40 {
			p = p[:37] + "..."
		}
		fmt.Fprintf(&b, "%-19s %-8s %-11s %4d %-7s %6d  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.ClientPrefix, e.Mode, e.Slot, res, e.TokensUsed, p)
	}
	return b.String()
}

// formatCacheStats renders cache counters with the hit rate.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Entries, stats.Hits, stats.Misses, hitRate)
}

func formatEstimate(mode models.Mode, perSlot, slots, total, perImage int) string {
	return fmt.Sprintf("Token Estimate (%s)\n"+
		"  Per image:        %d\n"+
		"  Slots:            %d\n"+
		"  Estimated total:  %d\n"+
		"  Charged per success: %d (failures are free)\n",
		mode, perSlot, slots, total, perImage)
}

func formatPrompts(mode models.Mode, prompts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prompts (%s, %d)\n", mode, len(prompts))
	for i, p := range prompts {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, p)
	}
	return b.String()
}
