package core

import (
	"context"
	"time"
)

// ActiveWindow is how far back a session's last activity may lie while the
// session still counts as live. Every backend applies the same window;
// what clock anchors it differs per backend (file mtime, store clock, host
// clock) and is documented on each implementation.
const ActiveWindow = 30 * time.Minute

// Provider is the normalized usage-query contract every backend implements.
// Implementations own their source handle and any response cache; they are
// safe for concurrent use.
type Provider interface {
	// Name is the human-visible label reported inside UsageStats.
	Name() string
	// Kind is the provider-family tag ("claude", "gemini", "glm").
	Kind() string
	// Source is the directory or endpoint this backend reads.
	Source() string

	UsageStats(ctx context.Context) (UsageStats, error)
	ActiveSessions(ctx context.Context) ([]Session, error)
	DailyUsage(ctx context.Context, days int) ([]DailyUsage, error)
	SessionHistory(ctx context.Context, limit int) ([]Session, error)
}

// QuotaReporter is an optional capability for backends whose vendor exposes
// quota telemetry. Callers type-assert; everyone else is Unavailable.
type QuotaReporter interface {
	RateLimitStatus(ctx context.Context) RateLimitStatus
}
