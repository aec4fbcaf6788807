package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// CategoryOther is assigned when no taxonomy keyword matches.
	CategoryOther = "other"

	// ProviderUnknown is used when neither the tariff table nor the model id names a provider.
	ProviderUnknown = "unknown"

	// MaxDescriptionRunes bounds UsageEvent.TaskDescription.
	MaxDescriptionRunes = 200

	// DateLayout is the calendar-date key used by daily summaries.
	DateLayout = "2006-01-02"
)

// Candidate is a usage extraction produced by the session parser. It still
// lacks pricing, provider, and task category.
type Candidate struct {
	Timestamp        time.Time
	SessionID        string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	Text             string
	RawPayload       []byte
}

// UsageEvent is one priced and classified ledger record. Once admitted it is never mutated.
type UsageEvent struct {
	EventID          string    `json:"event_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	TaskCategory     string    `json:"task_category"`
	TaskDescription  string    `json:"task_description"`
	RawPayload       []byte    `json:"raw_payload,omitempty"`
}

// TotalTokens counts billable input and output tokens. Cache tokens are excluded.
func (e UsageEvent) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens
}

// Complete turns a candidate into an event once pricing and classification are known.
func (c Candidate) Complete(costUSD float64, provider, category string) UsageEvent {
	if strings.TrimSpace(provider) == "" {
		provider = ProviderUnknown
	}
	if strings.TrimSpace(category) == "" {
		category = CategoryOther
	}
	return UsageEvent{
		Timestamp:        c.Timestamp.UTC(),
		SessionID:        c.SessionID,
		Model:            c.Model,
		Provider:         provider,
		InputTokens:      c.InputTokens,
		OutputTokens:     c.OutputTokens,
		CacheReadTokens:  c.CacheReadTokens,
		CacheWriteTokens: c.CacheWriteTokens,
		CostUSD:          costUSD,
		TaskCategory:     category,
		TaskDescription:  TruncateRunes(c.Text, MaxDescriptionRunes),
		RawPayload:       c.RawPayload,
	}
}

// DailySummary is the derived aggregate for one calendar date.
type DailySummary struct {
	Date        string   `json:"date"`
	TotalCost   float64  `json:"total_cost"`
	TotalTokens int64    `json:"total_tokens"`
	TasksCount  int64    `json:"tasks_count"`
	Models      []string `json:"models_used"`
}

// TruncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
