package models

import "time"

// UsageRecord is one charge entry in the token ledger.
type UsageRecord struct {
	ID        int64     `json:"id"`
	ClientID  string    `json:"client_id"`
	RequestID string    `json:"request_id,omitempty"`
	Mode      Mode      `json:"mode"`
	Model     string    `json:"model,omitempty"`
	Requested int       `json:"requested"`
	Images    int       `json:"images"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary aggregates ledger entries per client and mode.
type UsageSummary struct {
	ClientID     string `json:"client_id"`
	Mode         Mode   `json:"mode"`
	RequestCount int    `json:"request_count"`
	Requested    int    `json:"requested"`
	Images       int    `json:"images"`
	Tokens       int64  `json:"tokens"`
}

// DailyUsage is the ledger total for one UTC day.
type DailyUsage struct {
	Day          string `json:"day"`
	RequestCount int    `json:"request_count"`
	Images       int    `json:"images"`
	Tokens       int64  `json:"tokens"`
}
