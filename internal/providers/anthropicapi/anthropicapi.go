// Package anthropicapi fetches organization-wide usage and cost from the
// Anthropic Admin API. Reports are paginated; a fetch either returns every
// page or fails as a whole. Results are cached for a short TTL so frequent
// refreshes do not hammer the API.
package anthropicapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/pricing"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	defaultCacheTTL  = 60 * time.Second
	pageLimit        = "31"
	reportWindowDays = 30
)

type cacheEntry[T any] struct {
	data      T
	fetchedAt time.Time
}

func (e *cacheEntry[T]) fresh(ttl time.Duration) bool {
	return e != nil && time.Since(e.fetchedAt) < ttl
}

// Provider talks to the Admin API with an admin key (sk-ant-admin...). The
// key is sent in the x-api-key header and is never logged or written out.
type Provider struct {
	name     string
	apiKey   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	cacheTTL time.Duration

	usageMu    sync.Mutex
	usageCache *cacheEntry[core.UsageStats]

	dailyMu    sync.Mutex
	dailyCache *cacheEntry[[]core.DailyUsage]
}

func New(name, apiKey string) *Provider {
	if name == "" {
		name = "Claude (API)"
	}
	return &Provider{
		name:     name,
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		cacheTTL: defaultCacheTTL,
	}
}

func (p *Provider) Name() string   { return p.name }
func (p *Provider) Kind() string   { return "claude" }
func (p *Provider) Source() string { return p.baseURL }

type usageReport struct {
	Data     []usageBucket `json:"data"`
	HasMore  bool          `json:"has_more"`
	NextPage string        `json:"next_page"`
}

type usageBucket struct {
	StartingAt string        `json:"starting_at"`
	EndingAt   string        `json:"ending_at"`
	Results    []usageResult `json:"results"`
}

type usageResult struct {
	Model                string         `json:"model"`
	UncachedInputTokens  uint64         `json:"uncached_input_tokens"`
	OutputTokens         uint64         `json:"output_tokens"`
	CacheReadInputTokens uint64         `json:"cache_read_input_tokens"`
	CacheCreation        *cacheCreation `json:"cache_creation"`
}

func (r usageResult) cacheWriteTokens() uint64 {
	if r.CacheCreation == nil {
		return 0
	}
	return r.CacheCreation.Ephemeral5m + r.CacheCreation.Ephemeral1h
}

// countsAsMessage reports whether a result row represents at least one
// request. The report has no request counter, so rows with tokens stand in.
func (r usageResult) countsAsMessage() bool {
	return r.OutputTokens > 0 || r.UncachedInputTokens > 0
}

type cacheCreation struct {
	Ephemeral5m uint64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1h uint64 `json:"ephemeral_1h_input_tokens"`
}

type costReport struct {
	Data     []costBucket `json:"data"`
	HasMore  bool         `json:"has_more"`
	NextPage string       `json:"next_page"`
}

type costBucket struct {
	Results []costResult `json:"results"`
}

type costResult struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (p *Provider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

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

// fetchUsageBuckets walks every page of the usage report. Any page failure
// aborts the whole fetch; partial pages are never returned.
func (p *Provider) fetchUsageBuckets(ctx context.Context, startingAt, endingAt string, groupByModel bool) ([]usageBucket, error) {
	var buckets []usageBucket
	page := ""

	for {
		query := url.Values{}
		query.Set("starting_at", startingAt)
		query.Set("ending_at", endingAt)
		query.Set("bucket_width", "1d")
		query.Set("limit", pageLimit)
		if groupByModel {
			query.Set("group_by[]", "model")
		}
		if page != "" {
			query.Set("page", page)
		}

		var report usageReport
		if err := p.getJSON(ctx, "/v1/organizations/usage_report/messages", query, &report); err != nil {
			return nil, err
		}
		buckets = append(buckets, report.Data...)

		if !report.HasMore {
			return buckets, nil
		}
		page = report.NextPage
	}
}

// fetchCostUSD sums the cost report over the window. Amounts arrive as cent
// strings; unparseable entries are skipped.
func (p *Provider) fetchCostUSD(ctx context.Context, startingAt, endingAt string) (float64, error) {
	var totalCents float64
	page := ""

	for {
		query := url.Values{}
		query.Set("starting_at", startingAt)
		query.Set("ending_at", endingAt)
		query.Set("bucket_width", "1d")
		query.Set("limit", pageLimit)
		if page != "" {
			query.Set("page", page)
		}

		var report costReport
		if err := p.getJSON(ctx, "/v1/organizations/cost_report", query, &report); err != nil {
			return 0, err
		}
		for _, bucket := range report.Data {
			for _, result := range bucket.Results {
				if cents, err := strconv.ParseFloat(result.Amount, 64); err == nil {
					totalCents += cents
				}
			}
		}

		if !report.HasMore {
			return pricing.Round2(totalCents / 100), nil
		}
		page = report.NextPage
	}
}

func reportWindow(now time.Time, days int) (string, string) {
	start := now.AddDate(0, 0, -days)
	return start.Format("2006-01-02T00:00:00Z"), now.Format("2006-01-02T23:59:59Z")
}

func (p *Provider) UsageStats(ctx context.Context) (core.UsageStats, error) {
	p.usageMu.Lock()
	if p.usageCache.fresh(p.cacheTTL) {
		stats := p.usageCache.data
		p.usageMu.Unlock()
		return stats, nil
	}
	p.usageMu.Unlock()

	startingAt, endingAt := reportWindow(time.Now().UTC(), reportWindowDays)
	buckets, err := p.fetchUsageBuckets(ctx, startingAt, endingAt, true)
	if err != nil {
		return core.UsageStats{}, err
	}

	stats := core.UsageStats{
		Provider:       p.name,
		ModelBreakdown: make(map[string]core.ModelUsage),
	}
	for _, bucket := range buckets {
		for _, result := range bucket.Results {
			model := result.Model
			if model == "" {
				model = "unknown"
			}
			cacheWrite := result.cacheWriteTokens()

			stats.TotalInputTokens += result.UncachedInputTokens
			stats.TotalOutputTokens += result.OutputTokens
			stats.TotalCacheReadTokens += result.CacheReadInputTokens
			stats.TotalCacheWriteTokens += cacheWrite
			if result.countsAsMessage() {
				stats.TotalMessages++
			}

			m := stats.ModelBreakdown[model]
			m.Model = model
			m.InputTokens += result.UncachedInputTokens
			m.OutputTokens += result.OutputTokens
			m.CacheReadTokens += result.CacheReadInputTokens
			m.CacheWriteTokens += cacheWrite
			// Per-model cost stays zero: the cost report is not broken
			// down by model, only the org-wide total is known.
			stats.ModelBreakdown[model] = m
		}
	}

	// Billed cost comes from the cost report; a failure there degrades to
	// zero rather than discarding the token totals.
	if cost, err := p.fetchCostUSD(ctx, startingAt, endingAt); err == nil {
		stats.EstimatedCostUSD = cost
	}

	p.usageMu.Lock()
	p.usageCache = &cacheEntry[core.UsageStats]{data: stats, fetchedAt: time.Now()}
	p.usageMu.Unlock()

	return stats, nil
}

func (p *Provider) DailyUsage(ctx context.Context, days int) ([]core.DailyUsage, error) {
	p.dailyMu.Lock()
	if p.dailyCache.fresh(p.cacheTTL) {
		cached := p.dailyCache.data
		p.dailyMu.Unlock()
		if days >= 0 && len(cached) > days {
			cached = cached[:days]
		}
		return append([]core.DailyUsage{}, cached...), nil
	}
	p.dailyMu.Unlock()

	startingAt, endingAt := reportWindow(time.Now().UTC(), days)
	buckets, err := p.fetchUsageBuckets(ctx, startingAt, endingAt, false)
	if err != nil {
		return nil, err
	}

	daily := make([]core.DailyUsage, 0, len(buckets))
	for _, bucket := range buckets {
		d := core.DailyUsage{Date: datePrefix(bucket.StartingAt)}
		for _, result := range bucket.Results {
			d.InputTokens += result.UncachedInputTokens + result.CacheReadInputTokens + result.cacheWriteTokens()
			d.OutputTokens += result.OutputTokens
			if result.countsAsMessage() {
				d.Messages++
			}
		}
		daily = append(daily, d)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })

	p.dailyMu.Lock()
	p.dailyCache = &cacheEntry[[]core.DailyUsage]{data: daily, fetchedAt: time.Now()}
	p.dailyMu.Unlock()

	if days >= 0 && len(daily) > days {
		daily = daily[:days]
	}
	return daily, nil
}

// ActiveSessions is always empty: the Admin API reports aggregate usage and
// has no session concept.
func (p *Provider) ActiveSessions(ctx context.Context) ([]core.Session, error) {
	return []core.Session{}, nil
}

func (p *Provider) SessionHistory(ctx context.Context, limit int) ([]core.Session, error) {
	return []core.Session{}, nil
}

// datePrefix extracts the calendar date from an RFC 3339 timestamp.
func datePrefix(ts string) string {
	if i := len("2006-01-02"); len(ts) >= i {
		return ts[:i]
	}
	return ts
}

// ValidateKey probes the usage report with a minimal one-day window to check
// that the key is accepted. It uses a short deadline so profile setup does
// not hang on a slow network.
func (p *Provider) ValidateKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	startingAt, endingAt := reportWindow(time.Now().UTC(), 1)
	query := url.Values{}
	query.Set("starting_at", startingAt)
	query.Set("ending_at", endingAt)
	query.Set("bucket_width", "1d")
	query.Set("limit", "1")

	var report usageReport
	if err := p.getJSON(ctx, "/v1/organizations/usage_report/messages", query, &report); err != nil {
		return fmt.Errorf("validating admin key: %w", err)
	}
	return nil
}
