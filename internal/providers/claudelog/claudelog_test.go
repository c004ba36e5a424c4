package claudelog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const assistantLine = `{"type":"assistant","sessionId":"sess-1","timestamp":"2025-06-01T10:00:00Z","message":{"model":"claude-sonnet-4","usage":{"input_tokens":100,"output_tokens":200,"cache_read_input_tokens":10,"cache_creation_input_tokens":5}}}`

func TestUsageStats_MissingCacheReturnsZeroStats(t *testing.T) {
	p := New("Claude", t.TempDir())

	stats, err := p.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalInputTokens != 0 || stats.TotalMessages != 0 || stats.EstimatedCostUSD != 0 {
		t.Fatalf("want all-zero stats, got %+v", stats)
	}
	if stats.Provider != "Claude" {
		t.Fatalf("Provider = %q, want Claude", stats.Provider)
	}
}

func TestUsageStats_MalformedCacheReturnsZeroStats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stats-cache.json"), `{not json`)

	p := New("Claude", dir)
	stats, err := p.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalInputTokens != 0 || len(stats.ModelBreakdown) != 0 {
		t.Fatalf("want zero stats for malformed cache, got %+v", stats)
	}
}

func TestUsageStats_OpusScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stats-cache.json"),
		`{"modelUsage":{"claude-3-opus":{"inputTokens":1000,"outputTokens":2000}},"totalSessions":3,"totalMessages":10}`)

	p := New("Claude", dir)
	stats, err := p.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.EstimatedCostUSD != 0.17 {
		t.Fatalf("EstimatedCostUSD = %v, want 0.17", stats.EstimatedCostUSD)
	}
	if stats.TotalSessions != 3 || stats.TotalMessages != 10 {
		t.Fatalf("sessions/messages = %d/%d, want 3/10", stats.TotalSessions, stats.TotalMessages)
	}
	if stats.TotalInputTokens != 1000 || stats.TotalOutputTokens != 2000 {
		t.Fatalf("tokens = %d/%d, want 1000/2000", stats.TotalInputTokens, stats.TotalOutputTokens)
	}
}

func TestUsageStats_BreakdownSumsMatchTotals(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stats-cache.json"),
		`{"modelUsage":{
			"claude-3-opus":{"inputTokens":1000,"outputTokens":2000,"cacheReadInputTokens":50,"cacheCreationInputTokens":25},
			"claude-3-5-haiku":{"inputTokens":300,"outputTokens":700,"cacheReadInputTokens":5,"cacheCreationInputTokens":2}
		}}`)

	p := New("Claude", dir)
	stats, err := p.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}

	var in, out, read, write uint64
	for _, m := range stats.ModelBreakdown {
		in += m.InputTokens
		out += m.OutputTokens
		read += m.CacheReadTokens
		write += m.CacheWriteTokens
	}
	if in != stats.TotalInputTokens || out != stats.TotalOutputTokens ||
		read != stats.TotalCacheReadTokens || write != stats.TotalCacheWriteTokens {
		t.Fatalf("breakdown sums %d/%d/%d/%d do not reproduce totals %d/%d/%d/%d",
			in, out, read, write,
			stats.TotalInputTokens, stats.TotalOutputTokens,
			stats.TotalCacheReadTokens, stats.TotalCacheWriteTokens)
	}
}

func TestParseSessionFile_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects", "proj-a", "sess.jsonl")
	writeFile(t, path,
		"garbage not json\n"+
			assistantLine+"\n"+
			`{"type":"user","sessionId":"sess-1"}`+"\n"+
			assistantLine+"\n")

	p := New("Claude", dir)
	s := p.parseSessionFile(path, time.Now())
	if s == nil {
		t.Fatal("parseSessionFile() = nil, want session")
	}
	if s.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", s.MessageCount)
	}
	if s.TokensUsed != 2*(100+200+10+5) {
		t.Fatalf("TokensUsed = %d, want %d", s.TokensUsed, 2*(100+200+10+5))
	}
	if s.ID != "sess-1" || s.Project != "proj-a" {
		t.Fatalf("id/project = %q/%q", s.ID, s.Project)
	}
}

func TestParseSessionFile_LastModelWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects", "p", "s.jsonl")
	writeFile(t, path,
		`{"type":"assistant","message":{"model":"claude-3-opus","usage":{"input_tokens":1,"output_tokens":1}}}`+"\n"+
			`{"type":"assistant","message":{"model":"claude-sonnet-4","usage":{"input_tokens":1,"output_tokens":1}}}`+"\n")

	p := New("Claude", dir)
	s := p.parseSessionFile(path, time.Now())
	if s == nil {
		t.Fatal("parseSessionFile() = nil, want session")
	}
	if s.Model != "claude-sonnet-4" {
		t.Fatalf("Model = %q, want last assistant model", s.Model)
	}
}

func TestParseSessionFile_NoQualifyingLinesYieldsNoSession(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects", "p", "empty.jsonl")
	writeFile(t, path, `{"type":"user","sessionId":"s"}`+"\n"+`{"type":"summary"}`+"\n")

	p := New("Claude", dir)
	if s := p.parseSessionFile(path, time.Now()); s != nil {
		t.Fatalf("parseSessionFile() = %+v, want nil", s)
	}
}

func TestActiveSessions_MissingProjectsDirIsEmpty(t *testing.T) {
	p := New("Claude", t.TempDir())
	sessions, err := p.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("ActiveSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestActiveSessions_FiltersStaleFiles(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "projects", "p", "fresh.jsonl")
	stale := filepath.Join(dir, "projects", "p", "stale.jsonl")
	writeFile(t, fresh, assistantLine+"\n")
	writeFile(t, stale, assistantLine+"\n")

	old := time.Now().Add(-45 * time.Minute)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	p := New("Claude", dir)
	sessions, err := p.ActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("ActiveSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if !sessions[0].IsActive {
		t.Fatal("surviving session should be active")
	}
}

func TestLivenessBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects", "p", "s.jsonl")
	writeFile(t, path, assistantLine+"\n")

	p := New("Claude", dir)
	now := time.Now()

	mt := now.Add(-(29*time.Minute + 59*time.Second))
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
	if s := p.parseSessionFile(path, now); s == nil || !s.IsActive {
		t.Fatal("29:59 old file should be active")
	}

	mt = now.Add(-(30*time.Minute + 1*time.Second))
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
	if s := p.parseSessionFile(path, now); s == nil || s.IsActive {
		t.Fatal("30:01 old file should not be active")
	}
}

func TestSessionHistory_SortsByMtimeAndDropsEmpty(t *testing.T) {
	dir := t.TempDir()
	newer := filepath.Join(dir, "projects", "p", "newer.jsonl")
	older := filepath.Join(dir, "projects", "p", "older.jsonl")
	blank := filepath.Join(dir, "projects", "p", "blank.jsonl")
	writeFile(t, newer, `{"type":"assistant","sessionId":"newer","message":{"model":"m","usage":{"input_tokens":1}}}`+"\n")
	writeFile(t, older, `{"type":"assistant","sessionId":"older","message":{"model":"m","usage":{"input_tokens":1}}}`+"\n")
	writeFile(t, blank, `{"type":"user"}`+"\n")

	now := time.Now()
	for i, path := range []string{blank, older, newer} {
		mt := now.Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatal(err)
		}
	}

	p := New("Claude", dir)
	sessions, err := p.SessionHistory(context.Background(), 10)
	if err != nil {
		t.Fatalf("SessionHistory() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 (blank file dropped)", len(sessions))
	}
	if sessions[0].ID != "newer" || sessions[1].ID != "older" {
		t.Fatalf("order = %q, %q; want newer, older", sessions[0].ID, sessions[1].ID)
	}
}

func TestSessionHistory_LimitMayYieldFewer(t *testing.T) {
	dir := t.TempDir()
	// The most recent file holds no qualifying lines; it consumes a limit
	// slot and is then dropped.
	good := filepath.Join(dir, "projects", "p", "good.jsonl")
	bad := filepath.Join(dir, "projects", "p", "bad.jsonl")
	writeFile(t, good, assistantLine+"\n")
	writeFile(t, bad, `{"type":"user"}`+"\n")

	now := time.Now()
	older := now.Add(-2 * time.Hour)
	if err := os.Chtimes(good, older, older); err != nil {
		t.Fatal(err)
	}

	p := New("Claude", dir)
	sessions, err := p.SessionHistory(context.Background(), 1)
	if err != nil {
		t.Fatalf("SessionHistory() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestDailyUsage_MergesSeriesAndSplitsTokens(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stats-cache.json"), `{
		"dailyActivity":[
			{"date":"2025-06-02","messageCount":10,"sessionCount":2},
			{"date":"2025-06-03","messageCount":4,"sessionCount":1}
		],
		"dailyModelTokens":[
			{"date":"2025-06-01","tokensByModel":{"claude-sonnet-4":1000}},
			{"date":"2025-06-02","tokensByModel":{"claude-sonnet-4":600,"claude-3-opus":400}}
		]
	}`)

	p := New("Claude", dir)
	daily, err := p.DailyUsage(context.Background(), 30)
	if err != nil {
		t.Fatalf("DailyUsage() error = %v", err)
	}
	if len(daily) != 3 {
		t.Fatalf("len = %d, want 3 (union of both series)", len(daily))
	}
	for i := 1; i < len(daily); i++ {
		if daily[i-1].Date <= daily[i].Date {
			t.Fatalf("dates not strictly descending: %q then %q", daily[i-1].Date, daily[i].Date)
		}
	}

	// 2025-06-03: activity only, zero tokens
	if daily[0].Date != "2025-06-03" || daily[0].InputTokens != 0 || daily[0].Messages != 4 {
		t.Fatalf("unexpected head entry %+v", daily[0])
	}
	// 2025-06-02: 1000 total at a 30/70 split
	if daily[1].InputTokens != 300 || daily[1].OutputTokens != 700 {
		t.Fatalf("split = %d/%d, want 300/700", daily[1].InputTokens, daily[1].OutputTokens)
	}
	// 2025-06-01: tokens only, zero activity
	if daily[2].Sessions != 0 || daily[2].Messages != 0 {
		t.Fatalf("unexpected tail entry %+v", daily[2])
	}
}

func TestDailyUsage_TruncatesToRequestedDays(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "stats-cache.json"), `{
		"dailyActivity":[
			{"date":"2025-06-01","messageCount":1,"sessionCount":1},
			{"date":"2025-06-02","messageCount":1,"sessionCount":1},
			{"date":"2025-06-03","messageCount":1,"sessionCount":1}
		]
	}`)

	p := New("Claude", dir)
	daily, err := p.DailyUsage(context.Background(), 2)
	if err != nil {
		t.Fatalf("DailyUsage() error = %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("len = %d, want 2", len(daily))
	}
	if daily[0].Date != "2025-06-03" {
		t.Fatalf("head = %q, want most recent date", daily[0].Date)
	}
}
