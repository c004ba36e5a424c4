// Package glmdb reads the GLM coding tool's local session database. The
// database is externally owned and opened strictly read-only; a missing file
// means a freshly configured profile and yields empty results.
package glmdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/pricing"
)

type Provider struct {
	name string
	dir  string
}

func New(name, dir string) *Provider {
	if name == "" {
		name = "GLM"
	}
	return &Provider{name: name, dir: dir}
}

func (p *Provider) Name() string   { return p.name }
func (p *Provider) Kind() string   { return "glm" }
func (p *Provider) Source() string { return p.dir }

// dbPath honors the GLM_DB_PATH override, otherwise <dir>/sessions.db.
func (p *Provider) dbPath() string {
	if override := os.Getenv("GLM_DB_PATH"); override != "" {
		return override
	}
	return filepath.Join(p.dir, "sessions.db")
}

// openDB returns (nil, nil) when the database file does not exist.
func (p *Provider) openDB() (*sql.DB, error) {
	path := p.dbPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	return db, nil
}

func (p *Provider) UsageStats(ctx context.Context) (core.UsageStats, error) {
	stats := core.UsageStats{
		Provider:       p.name,
		ModelBreakdown: make(map[string]core.ModelUsage),
	}

	db, err := p.openDB()
	if err != nil {
		return core.UsageStats{}, err
	}
	if db == nil {
		return stats, nil
	}
	defer db.Close()

	var sessionCount uint32
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessionCount); err != nil {
		return core.UsageStats{}, fmt.Errorf("counting sessions: %w", err)
	}
	stats.TotalSessions = sessionCount

	rows, err := db.QueryContext(ctx, `
		SELECT COALESCE(model, 'unknown'),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COUNT(*)
		FROM messages
		GROUP BY COALESCE(model, 'unknown')`)
	if err != nil {
		return core.UsageStats{}, fmt.Errorf("querying message usage: %w", err)
	}
	defer rows.Close()

	var totalCost float64
	for rows.Next() {
		var (
			model  string
			input  uint64
			output uint64
			count  uint32
		)
		if err := rows.Scan(&model, &input, &output, &count); err != nil {
			return core.UsageStats{}, fmt.Errorf("scanning message usage: %w", err)
		}

		cost := pricing.GLM(input, output)
		stats.TotalInputTokens += input
		stats.TotalOutputTokens += output
		stats.TotalMessages += count
		totalCost += cost

		stats.ModelBreakdown[model] = core.ModelUsage{
			Model:        model,
			InputTokens:  input,
			OutputTokens: output,
			CostUSD:      cost,
		}
	}
	if err := rows.Err(); err != nil {
		return core.UsageStats{}, fmt.Errorf("reading message usage: %w", err)
	}
	stats.EstimatedCostUSD = pricing.Round2(totalCost)

	return stats, nil
}

// sessionJoin aggregates each session's latest model, combined token total
// and message count alongside the session row.
const sessionJoin = `
	SELECT s.id, COALESCE(s.working_directory, ''),
	       COALESCE(s.updated_at, s.created_at, '') AS last_active,
	       COALESCE(m.model, 'unknown'),
	       COALESCE(m.total_tokens, 0),
	       COALESCE(m.msg_count, 0)
	FROM sessions s
	LEFT JOIN (
		SELECT session_id,
		       MAX(COALESCE(model, 'unknown')) AS model,
		       SUM(COALESCE(input_tokens, 0) + COALESCE(output_tokens, 0)) AS total_tokens,
		       COUNT(*) AS msg_count
		FROM messages GROUP BY session_id
	) m ON s.id = m.session_id`

func scanSessionRows(rows *sql.Rows, markActive func(lastActive string) bool) ([]core.Session, error) {
	sessions := []core.Session{}
	for rows.Next() {
		var s core.Session
		if err := rows.Scan(&s.ID, &s.Project, &s.LastActive, &s.Model, &s.TokensUsed, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		s.IsActive = markActive(s.LastActive)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading session rows: %w", err)
	}
	return sessions, nil
}

// ActiveSessions filters by the store's own clock: the WHERE clause compares
// updated_at against the engine's datetime('now'). The boundary therefore
// follows the database's clock, not the host's. SessionHistory deliberately
// uses the host clock instead, and the two can disagree under clock or time
// zone skew. Flagged for product clarification; do not silently unify.
func (p *Provider) ActiveSessions(ctx context.Context) ([]core.Session, error) {
	db, err := p.openDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []core.Session{}, nil
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, sessionJoin+`
		WHERE s.updated_at >= datetime('now', '-30 minutes')
		ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	return scanSessionRows(rows, func(string) bool { return true })
}

func (p *Provider) DailyUsage(ctx context.Context, days int) ([]core.DailyUsage, error) {
	db, err := p.openDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []core.DailyUsage{}, nil
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT DATE(m.created_at) AS date,
		       COALESCE(SUM(m.input_tokens), 0),
		       COALESCE(SUM(m.output_tokens), 0),
		       COUNT(DISTINCT m.session_id),
		       COUNT(*)
		FROM messages m
		WHERE m.created_at >= datetime('now', ?)
		GROUP BY DATE(m.created_at)
		ORDER BY date DESC`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("querying daily usage: %w", err)
	}
	defer rows.Close()

	daily := []core.DailyUsage{}
	for rows.Next() {
		var d core.DailyUsage
		if err := rows.Scan(&d.Date, &d.InputTokens, &d.OutputTokens, &d.Sessions, &d.Messages); err != nil {
			return nil, fmt.Errorf("scanning daily usage: %w", err)
		}
		daily = append(daily, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading daily usage: %w", err)
	}
	return daily, nil
}

// SessionHistory computes liveness host-side: each row's timestamp is
// compared against a 30-minute window anchored to request time. This is a
// different mechanism from ActiveSessions' store-clock filter; both are kept
// as-is (see ActiveSessions).
func (p *Provider) SessionHistory(ctx context.Context, limit int) ([]core.Session, error) {
	db, err := p.openDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []core.Session{}, nil
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, sessionJoin+`
		ORDER BY last_active DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying session history: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	cutoff := now.Add(-core.ActiveWindow).Format("2006-01-02 15:04:05")
	nowStr := now.Format("2006-01-02 15:04:05")

	return scanSessionRows(rows, func(lastActive string) bool {
		return lastActive >= cutoff && lastActive <= nowStr
	})
}
