// Package glmapi reads the GLM monitoring API: a trailing-24h model usage
// endpoint and a quota endpoint. Neither call is cached; the quota view in
// particular must reflect the live limit state.
package glmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/pricing"
)

const defaultBaseURL = "https://api.z.ai"

type Provider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(name, apiKey string) *Provider {
	if name == "" {
		name = "GLM (API)"
	}
	return &Provider{
		name:    name,
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Provider) Name() string   { return p.name }
func (p *Provider) Kind() string   { return "glm" }
func (p *Provider) Source() string { return p.baseURL }

type modelUsageResponse struct {
	Data []modelUsageEntry `json:"data"`
}

type modelUsageEntry struct {
	ModelName    string `json:"modelName"`
	InputTokens  uint64 `json:"inputTokens"`
	OutputTokens uint64 `json:"outputTokens"`
	CallCount    uint32 `json:"callCount"`
}

type quotaLimitResponse struct {
	Limits []quotaLimitItem `json:"limits"`
}

type quotaLimitItem struct {
	Type          string  `json:"type"`
	Percentage    float64 `json:"percentage"` // 0-1
	NextResetTime *int64  `json:"nextResetTime"`
}

// The key goes into the Authorization header as-is; the monitoring API does
// not use a Bearer prefix.
func (p *Provider) get(ctx context.Context, path string, query url.Values, out any) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Accept-Language", "en-US,en")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (p *Provider) fetchModelUsage(ctx context.Context) ([]modelUsageEntry, error) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)

	query := url.Values{}
	query.Set("startTime", start.Format("2006-01-02 15:00:00"))
	query.Set("endTime", now.Format("2006-01-02 15:59:59"))

	var resp modelUsageResponse
	if err := p.get(ctx, "/api/monitor/usage/model-usage", query, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UsageStats reports the trailing 24 hours. A monitoring API failure
// degrades to empty stats rather than an error so a flaky endpoint does not
// take the profile out of aggregate views.
func (p *Provider) UsageStats(ctx context.Context) (core.UsageStats, error) {
	stats := core.UsageStats{
		Provider:       p.name,
		ModelBreakdown: make(map[string]core.ModelUsage),
	}

	entries, err := p.fetchModelUsage(ctx)
	if err != nil {
		return stats, nil
	}

	var totalCost float64
	for _, entry := range entries {
		cost := pricing.GLM(entry.InputTokens, entry.OutputTokens)

		stats.TotalInputTokens += entry.InputTokens
		stats.TotalOutputTokens += entry.OutputTokens
		stats.TotalMessages += entry.CallCount
		totalCost += cost

		stats.ModelBreakdown[entry.ModelName] = core.ModelUsage{
			Model:        entry.ModelName,
			InputTokens:  entry.InputTokens,
			OutputTokens: entry.OutputTokens,
			CostUSD:      pricing.Round2(cost),
		}
	}
	stats.EstimatedCostUSD = pricing.Round2(totalCost)

	return stats, nil
}

// RateLimitStatus classifies quota windows by limit type substring: TOKEN
// becomes the token window, TIME the time window. Anything else is ignored,
// and a response with neither reports unavailable.
func (p *Provider) RateLimitStatus(ctx context.Context) core.RateLimitStatus {
	var quota quotaLimitResponse
	if err := p.get(ctx, "/api/monitor/usage/quota/limit", nil, &quota); err != nil {
		return core.Unavailable()
	}
	if len(quota.Limits) == 0 {
		return core.Unavailable()
	}

	var tokenWindow, timeWindow *core.RateLimitWindow
	for _, item := range quota.Limits {
		resetsAt := ""
		if item.NextResetTime != nil {
			resetsAt = time.UnixMilli(*item.NextResetTime).UTC().Format(time.RFC3339)
		}
		window := &core.RateLimitWindow{
			Utilization: item.Percentage * 100,
			ResetsAt:    resetsAt,
		}

		switch {
		case strings.Contains(item.Type, "TOKEN"):
			window.Label = "Token Limit"
			tokenWindow = window
		case strings.Contains(item.Type, "TIME"):
			window.Label = "Time Limit"
			timeWindow = window
		}
	}

	return core.RateLimitStatus{
		Available:   tokenWindow != nil || timeWindow != nil,
		TokenWindow: tokenWindow,
		TimeWindow:  timeWindow,
	}
}

// The monitoring API has no session tracking and no daily breakdown beyond
// its 24h window.
func (p *Provider) ActiveSessions(ctx context.Context) ([]core.Session, error) {
	return []core.Session{}, nil
}

func (p *Provider) DailyUsage(ctx context.Context, days int) ([]core.DailyUsage, error) {
	return []core.DailyUsage{}, nil
}

func (p *Provider) SessionHistory(ctx context.Context, limit int) ([]core.Session, error) {
	return []core.Session{}, nil
}
