package core

// UsageStats is the normalized cumulative usage picture one backend reports
// for its reporting window. It is rebuilt on every query (or served from a
// backend-local TTL cache) and never persisted.
type UsageStats struct {
	Provider              string                `json:"provider"`
	TotalInputTokens      uint64                `json:"totalInputTokens"`
	TotalOutputTokens     uint64                `json:"totalOutputTokens"`
	TotalCacheReadTokens  uint64                `json:"totalCacheReadTokens"`
	TotalCacheWriteTokens uint64                `json:"totalCacheWriteTokens"`
	TotalSessions         uint32                `json:"totalSessions"`
	TotalMessages         uint32                `json:"totalMessages"`
	EstimatedCostUSD      float64               `json:"estimatedCostUsd"`
	ModelBreakdown        map[string]ModelUsage `json:"modelBreakdown"`
}

type ModelUsage struct {
	Model            string  `json:"model"`
	InputTokens      uint64  `json:"inputTokens"`
	OutputTokens     uint64  `json:"outputTokens"`
	CacheReadTokens  uint64  `json:"cacheReadTokens"`
	CacheWriteTokens uint64  `json:"cacheWriteTokens"`
	CostUSD          float64 `json:"costUsd"`
}

// Session is reconstructed transiently from a log file or database row on
// every request. LastActive carries the source's ISO-8601 timestamp verbatim.
type Session struct {
	ID           string `json:"id"`
	Project      string `json:"project"`
	Model        string `json:"model"`
	TokensUsed   uint64 `json:"tokensUsed"`
	LastActive   string `json:"lastActive"`
	IsActive     bool   `json:"isActive"`
	MessageCount uint32 `json:"messageCount"`
}

// DailyUsage is one calendar-day rollup. Backends return these sorted by
// Date descending with no duplicate dates.
type DailyUsage struct {
	Date         string `json:"date"` // YYYY-MM-DD
	InputTokens  uint64 `json:"inputTokens"`
	OutputTokens uint64 `json:"outputTokens"`
	Sessions     uint32 `json:"sessions"`
	Messages     uint32 `json:"messages"`
}

// RateLimitStatus mirrors a remote quota endpoint. Backends without quota
// telemetry report Available=false with every window nil.
type RateLimitStatus struct {
	Available   bool             `json:"available"`
	TokenWindow *RateLimitWindow `json:"tokenWindow,omitempty"`
	TimeWindow  *RateLimitWindow `json:"timeWindow,omitempty"`
	OpusWindow  *RateLimitWindow `json:"opusWindow,omitempty"`
}

type RateLimitWindow struct {
	Label       string  `json:"label"`
	Utilization float64 `json:"utilization"` // 0-100
	ResetsAt    string  `json:"resetsAt,omitempty"`
}

// Unavailable is the rate-limit answer for every backend that has no quota
// endpoint to ask.
func Unavailable() RateLimitStatus {
	return RateLimitStatus{Available: false}
}
