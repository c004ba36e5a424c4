// Package geminilog reads Gemini CLI session data: JSONL chat logs and the
// older single-object JSON session files, both under tmp/<hash>/chats/.
package geminilog

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

	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/pricing"
)

// inputShare approximates the input portion of a session's combined token
// total. Gemini session logs only record combined counts per message, so the
// 40/60 input/output split is a heuristic, not a measured value.
const inputShare = 40

type Provider struct {
	name string
	dir  string
}

func New(name, dir string) *Provider {
	if name == "" {
		name = "Gemini"
	}
	return &Provider{name: name, dir: dir}
}

func (p *Provider) Name() string   { return p.name }
func (p *Provider) Kind() string   { return "gemini" }
func (p *Provider) Source() string { return p.dir }

// effectiveDir honors the GEMINI_CLI_HOME override the CLI itself respects.
func (p *Provider) effectiveDir() string {
	if override := os.Getenv("GEMINI_CLI_HOME"); override != "" {
		return override
	}
	return p.dir
}

type sessionLine struct {
	Type      string       `json:"type"`
	ID        string       `json:"id"`
	Tokens    *tokenCounts `json:"tokens"`
	Model     string       `json:"model"`
	Timestamp string       `json:"timestamp"`
}

type tokenCounts struct {
	Input  uint64 `json:"input"`
	Output uint64 `json:"output"`
}

type legacySession struct {
	Messages  []legacyMessage `json:"messages"`
	Model     string          `json:"model"`
	CreatedAt string          `json:"createdAt"`
}

type legacyMessage struct {
	Tokens *tokenCounts `json:"tokens"`
}

// findSessionFiles globs tmp/*/chats for session files with the given
// extension. A missing tmp directory yields an empty set.
func (p *Provider) findSessionFiles(ext string) []string {
	base := filepath.Join(p.effectiveDir(), "tmp")
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(base, "*", "chats", "session-*"+ext))
	if err != nil {
		return nil
	}
	// filepath.Glob("*.json") also matches nothing extra, but keep the
	// explicit extension check so .jsonl never rides along.
	files := matches[:0]
	for _, m := range matches {
		if filepath.Ext(m) == ext {
			files = append(files, m)
		}
	}
	return files
}

// projectLabel derives the workspace label from the hash directory two
// levels up: tmp/<hash>/chats/session-*.jsonl.
func projectLabel(path string) string {
	hashDir := filepath.Dir(filepath.Dir(path))
	label := filepath.Base(hashDir)
	if label == "." || label == string(filepath.Separator) {
		return "unknown"
	}
	return label
}

func (p *Provider) parseJSONLSession(path string, now time.Time) *core.Session {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var (
		totalInput   uint64
		totalOutput  uint64
		messageCount uint32
		lastModel    string
		lastStamp    string
	)

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry sessionLine
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Printf("geminilog: skipping malformed line in %s: %v", filepath.Base(path), err)
			continue
		}
		if entry.Timestamp != "" {
			lastStamp = entry.Timestamp
		}
		if entry.Model != "" {
			lastModel = entry.Model
		}
		if entry.Tokens != nil {
			totalInput += entry.Tokens.Input
			totalOutput += entry.Tokens.Output
			messageCount++
		}
	}

	if messageCount == 0 {
		return nil
	}
	if lastModel == "" {
		lastModel = "gemini-unknown"
	}

	return &core.Session{
		ID:           strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Project:      projectLabel(path),
		Model:        lastModel,
		TokensUsed:   totalInput + totalOutput,
		LastActive:   lastStamp,
		IsActive:     modifiedWithin(path, now, core.ActiveWindow),
		MessageCount: messageCount,
	}
}

func (p *Provider) parseLegacySession(path string, now time.Time) *core.Session {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sess legacySession
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Printf("geminilog: skipping malformed legacy session %s: %v", filepath.Base(path), err)
		return nil
	}
	if len(sess.Messages) == 0 {
		return nil
	}

	var totalInput, totalOutput uint64
	for _, msg := range sess.Messages {
		if msg.Tokens != nil {
			totalInput += msg.Tokens.Input
			totalOutput += msg.Tokens.Output
		}
	}

	model := sess.Model
	if model == "" {
		model = "gemini-unknown"
	}

	return &core.Session{
		ID:           strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Project:      projectLabel(path),
		Model:        model,
		TokensUsed:   totalInput + totalOutput,
		LastActive:   sess.CreatedAt,
		IsActive:     modifiedWithin(path, now, core.ActiveWindow),
		MessageCount: uint32(len(sess.Messages)),
	}
}

func modifiedWithin(path string, now time.Time, window time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < window
}

func (p *Provider) allSessions(now time.Time) []core.Session {
	var sessions []core.Session
	for _, path := range p.findSessionFiles(".jsonl") {
		if s := p.parseJSONLSession(path, now); s != nil {
			sessions = append(sessions, *s)
		}
	}
	for _, path := range p.findSessionFiles(".json") {
		if s := p.parseLegacySession(path, now); s != nil {
			sessions = append(sessions, *s)
		}
	}
	return sessions
}

func (p *Provider) UsageStats(_ context.Context) (core.UsageStats, error) {
	sessions := p.allSessions(time.Now())

	stats := core.UsageStats{
		Provider:       p.name,
		TotalSessions:  uint32(len(sessions)),
		ModelBreakdown: make(map[string]core.ModelUsage),
	}

	type modelAgg struct{ input, output uint64 }
	perModel := make(map[string]modelAgg)

	for _, s := range sessions {
		input := s.TokensUsed * inputShare / 100
		output := s.TokensUsed - input

		stats.TotalInputTokens += input
		stats.TotalOutputTokens += output
		stats.TotalMessages += s.MessageCount

		agg := perModel[s.Model]
		agg.input += input
		agg.output += output
		perModel[s.Model] = agg
	}

	var totalCost float64
	for model, agg := range perModel {
		cost := pricing.Gemini(model, agg.input, agg.output)
		totalCost += cost
		stats.ModelBreakdown[model] = core.ModelUsage{
			Model:        model,
			InputTokens:  agg.input,
			OutputTokens: agg.output,
			CostUSD:      cost,
		}
	}
	stats.EstimatedCostUSD = pricing.Round2(totalCost)

	return stats, nil
}

func (p *Provider) ActiveSessions(_ context.Context) ([]core.Session, error) {
	active := []core.Session{}
	for _, s := range p.allSessions(time.Now()) {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}

func (p *Provider) DailyUsage(_ context.Context, days int) ([]core.DailyUsage, error) {
	byDate := make(map[string]core.DailyUsage)
	for _, s := range p.allSessions(time.Now()) {
		if len(s.LastActive) < 10 {
			continue
		}
		date := s.LastActive[:10]

		input := s.TokensUsed * inputShare / 100
		entry := byDate[date]
		entry.Date = date
		entry.InputTokens += input
		entry.OutputTokens += s.TokensUsed - input
		entry.Sessions++
		entry.Messages += s.MessageCount
		byDate[date] = entry
	}

	daily := make([]core.DailyUsage, 0, len(byDate))
	for _, entry := range byDate {
		daily = append(daily, entry)
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date > daily[j].Date })
	if days >= 0 && len(daily) > days {
		daily = daily[:days]
	}
	return daily, nil
}

func (p *Provider) SessionHistory(_ context.Context, limit int) ([]core.Session, error) {
	sessions := p.allSessions(time.Now())
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].LastActive > sessions[j].LastActive })
	if limit >= 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
