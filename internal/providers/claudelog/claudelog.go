// Package claudelog reads Claude Code's local account data: the precomputed
// stats-cache.json aggregate and the per-session JSONL logs under projects/.
package claudelog

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/pricing"
)

// inputShare approximates the input portion of a combined daily token total.
// The aggregate file only stores per-model day totals, so the 30/70
// input/output split is a heuristic, not a measured value.
const inputShare = 30

type Provider struct {
	name string
	dir  string
}

func New(name, dir string) *Provider {
	if name == "" {
		name = "Claude"
	}
	return &Provider{name: name, dir: dir}
}

func (p *Provider) Name() string   { return p.name }
func (p *Provider) Kind() string   { return "claude" }
func (p *Provider) Source() string { return p.dir }

type statsCache struct {
	ModelUsage       map[string]statsModelUsage `json:"modelUsage"`
	TotalSessions    uint32                     `json:"totalSessions"`
	TotalMessages    uint32                     `json:"totalMessages"`
	DailyActivity    []dailyActivity            `json:"dailyActivity"`
	DailyModelTokens []dailyModelTokens         `json:"dailyModelTokens"`
}

type statsModelUsage struct {
	InputTokens              uint64 `json:"inputTokens"`
	OutputTokens             uint64 `json:"outputTokens"`
	CacheReadInputTokens     uint64 `json:"cacheReadInputTokens"`
	CacheCreationInputTokens uint64 `json:"cacheCreationInputTokens"`
}

type dailyActivity struct {
	Date         string `json:"date"`
	MessageCount uint32 `json:"messageCount"`
	SessionCount uint32 `json:"sessionCount"`
}

type dailyModelTokens struct {
	Date          string            `json:"date"`
	TokensByModel map[string]uint64 `json:"tokensByModel"`
}

type sessionLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Message   *sessionMessage `json:"message"`
}

type sessionMessage struct {
	Model string        `json:"model"`
	Usage *sessionUsage `json:"usage"`
}

type sessionUsage struct {
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
}

// readStatsCache returns nil when the aggregate file is missing or does not
// parse; absence of the aggregate is not an error condition.
func (p *Provider) readStatsCache() *statsCache {
	data, err := os.ReadFile(filepath.Join(p.dir, "stats-cache.json"))
	if err != nil {
		return nil
	}
	var cache statsCache
	if err := json.Unmarshal(data, &cache); err != nil {
		log.Printf("claudelog: unreadable stats cache in %s: %v", p.dir, err)
		return nil
	}
	return &cache
}

func (p *Provider) UsageStats(_ context.Context) (core.UsageStats, error) {
	stats := core.UsageStats{
		Provider:       p.name,
		ModelBreakdown: make(map[string]core.ModelUsage),
	}

	cache := p.readStatsCache()
	if cache == nil {
		return stats, nil
	}

	stats.TotalSessions = cache.TotalSessions
	stats.TotalMessages = cache.TotalMessages

	var totalCost float64
	for model, usage := range cache.ModelUsage {
		cost := pricing.Anthropic(model,
			usage.InputTokens, usage.OutputTokens,
			usage.CacheReadInputTokens, usage.CacheCreationInputTokens)

		stats.TotalInputTokens += usage.InputTokens
		stats.TotalOutputTokens += usage.OutputTokens
		stats.TotalCacheReadTokens += usage.CacheReadInputTokens
		stats.TotalCacheWriteTokens += usage.CacheCreationInputTokens
		totalCost += cost

		stats.ModelBreakdown[model] = core.ModelUsage{
			Model:            model,
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadInputTokens,
			CacheWriteTokens: usage.CacheCreationInputTokens,
			CostUSD:          cost,
		}
	}
	stats.EstimatedCostUSD = pricing.Round2(totalCost)

	return stats, nil
}

// findSessionFiles walks projects/ for *.jsonl session logs. A missing
// projects directory yields an empty set.
func (p *Provider) findSessionFiles() []string {
	projectsDir := filepath.Join(p.dir, "projects")
	if _, err := os.Stat(projectsDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	_ = filepath.Walk(projectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// parseSessionFile aggregates one JSONL session log. Lines that fail to
// parse are skipped. Only assistant turns carrying usage data count toward
// the message total; a file with none of those is no session at all.
func (p *Provider) parseSessionFile(path string, now time.Time) *core.Session {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var (
		totalTokens   uint64
		messageCount  uint32
		lastModel     string
		lastTimestamp string
		sessionID     string
	)

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, 10*1024*1024) // 10MB max line size

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry sessionLine
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Printf("claudelog: skipping malformed line in %s: %v", filepath.Base(path), err)
			continue
		}

		if sessionID == "" && entry.SessionID != "" {
			sessionID = entry.SessionID
		}
		if entry.Timestamp != "" {
			lastTimestamp = entry.Timestamp
		}

		if entry.Type != "assistant" || entry.Message == nil {
			continue
		}
		if entry.Message.Model != "" {
			lastModel = entry.Message.Model
		}
		if u := entry.Message.Usage; u != nil {
			totalTokens += u.InputTokens + u.OutputTokens +
				u.CacheReadInputTokens + u.CacheCreationInputTokens
			messageCount++
		}
	}

	if messageCount == 0 {
		return nil
	}

	// Session files live under projects/<encoded-path>/<uuid>.jsonl.
	project := filepath.Base(filepath.Dir(path))
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if lastModel == "" {
		lastModel = "unknown"
	}

	return &core.Session{
		ID:           sessionID,
		Project:      project,
		Model:        lastModel,
		TokensUsed:   totalTokens,
		LastActive:   lastTimestamp,
		IsActive:     modifiedWithin(path, now, core.ActiveWindow),
		MessageCount: messageCount,
	}
}

func modifiedWithin(path string, now time.Time, window time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < window
}

func (p *Provider) ActiveSessions(_ context.Context) ([]core.Session, error) {
	now := time.Now()
	sessions := []core.Session{}

	for _, file := range p.findSessionFiles() {
		// mtime pre-filter before the full parse
		if !modifiedWithin(file, now, core.ActiveWindow) {
			continue
		}
		if s := p.parseSessionFile(file, now); s != nil {
			sessions = append(sessions, *s)
		}
	}
	return sessions, nil
}

func (p *Provider) SessionHistory(_ context.Context, limit int) ([]core.Session, error) {
	type timedFile struct {
		path    string
		modTime time.Time
	}

	var files []timedFile
	for _, path := range p.findSessionFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, timedFile{path: path, modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	if limit >= 0 && len(files) > limit {
		files = files[:limit]
	}

	// Files that fail to parse or hold no qualifying messages are dropped,
	// so the result may be shorter than the limit.
	now := time.Now()
	sessions := []core.Session{}
	for _, f := range files {
		if s := p.parseSessionFile(f.path, now); s != nil {
			sessions = append(sessions, *s)
		}
	}
	return sessions, nil
}

func (p *Provider) DailyUsage(_ context.Context, days int) ([]core.DailyUsage, error) {
	cache := p.readStatsCache()
	if cache == nil {
		return []core.DailyUsage{}, nil
	}

	type tokenSplit struct{ input, output uint64 }
	tokensByDate := make(map[string]tokenSplit)
	for _, entry := range cache.DailyModelTokens {
		var total uint64
		for _, tokens := range entry.TokensByModel {
			total += tokens
		}
		input := total * inputShare / 100
		split := tokensByDate[entry.Date]
		split.input += input
		split.output += total - input
		tokensByDate[entry.Date] = split
	}

	activityByDate := make(map[string]dailyActivity)
	for _, entry := range cache.DailyActivity {
		activityByDate[entry.Date] = entry
	}

	// Dates present in only one of the two series still appear; the missing
	// side defaults to zero.
	dates := lo.Uniq(append(lo.Keys(tokensByDate), lo.Keys(activityByDate)...))
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if days >= 0 && len(dates) > days {
		dates = dates[:days]
	}

	daily := make([]core.DailyUsage, 0, len(dates))
	for _, date := range dates {
		split := tokensByDate[date]
		activity := activityByDate[date]
		daily = append(daily, core.DailyUsage{
			Date:         date,
			InputTokens:  split.input,
			OutputTokens: split.output,
			Sessions:     activity.SessionCount,
			Messages:     activity.MessageCount,
		})
	}
	return daily, nil
}
