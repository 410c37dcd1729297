package models

import "time"

// HistoryEntry records one generated (or failed) slot.
type HistoryEntry struct {
	ImageID      string    `json:"image_id"`
	RequestID    string    `json:"request_id"`
	ClientHash   string    `json:"client_hash"`
	ClientPrefix string    `json:"client_prefix"`
	Mode         Mode      `json:"mode"`
	Slot         int       `json:"slot"`
	Prompt       string    `json:"prompt"`
	Style        Style     `json:"style,omitempty"`
	Language     Language  `json:"language,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	MIMEType     string    `json:"mime_type,omitempty"`
	Image        []byte    `json:"image,omitempty"`
	TokensUsed   int       `json:"tokens_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryConfig controls the generation history store.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxPerClient  int    `yaml:"max_per_client"`
	StoreImages   bool   `yaml:"store_images"`
}

// HistoryQueryOpts specifies filters for history queries.
type HistoryQueryOpts struct {
	ClientHash   string
	ClientPrefix string
	RequestID    string
	Mode         Mode
	Since        time.Time
	SuccessOnly  bool
	Limit        int
}

// HistoryStat holds aggregate counts for a mode/day combination.
type HistoryStat struct {
	Mode      Mode
	Day       string
	Count     int
	Succeeded int
}
