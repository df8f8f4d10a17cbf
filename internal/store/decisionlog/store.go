// Package decisionlog 以 SQLite 记录每次决策调用的提示词、原始输出与最终批次，方便事后排查。
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpagent/internal/decision"
	"perpagent/internal/logger"

	_ "modernc.org/sqlite"
)

// Store 管理决策审计日志。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ decision.Recorder = (*Store)(nil)

// Record 对应一次 Decide 调用。
type Record struct {
	ID         int64          `json:"id"`
	CycleID    string         `json:"cycle_id"`
	Timestamp  int64          `json:"ts"`
	Model      string         `json:"model"`
	Assets     []string       `json:"assets"`
	System     string         `json:"system_prompt"`
	User       string         `json:"user_prompt"`
	RawOutput  string         `json:"raw_output"`
	Batch      decision.Batch `json:"batch"`
	Failsafe   string         `json:"failsafe,omitempty"`
	Rounds     int            `json:"rounds"`
	ToolCalls  int            `json:"tool_calls"`
	Downgrades []string       `json:"downgrades,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Query 用于筛选日志；空字段不过滤。
type Query struct {
	Asset    string
	CycleID  string
	Failsafe bool
	Limit    int
	Offset   int
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT,
			ts INTEGER NOT NULL,
			model TEXT,
			assets TEXT,
			system_prompt TEXT,
			user_prompt TEXT,
			raw_output TEXT,
			batch_json TEXT,
			failsafe TEXT,
			rounds INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			downgrades TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_ts ON decision_logs(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_logs_cycle ON decision_logs(cycle_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision log store 未初始化")
	}
	return s.db, nil
}

// RecordInvocation 实现 decision.Recorder；写入失败只记录日志。
func (s *Store) RecordInvocation(ctx context.Context, inv decision.Invocation) {
	rec := Record{
		CycleID:    inv.CycleID,
		Timestamp:  inv.StartedAt.UnixMilli(),
		Model:      inv.Model,
		Assets:     inv.Assets,
		System:     inv.System,
		User:       inv.User,
		RawOutput:  inv.RawOutput,
		Batch:      inv.Batch,
		Failsafe:   inv.Failsafe,
		Rounds:     inv.Rounds,
		ToolCalls:  inv.ToolCalls,
		Downgrades: inv.Downgrades,
		DurationMS: inv.Duration.Milliseconds(),
		Error:      inv.Err,
	}
	if _, err := s.Insert(ctx, rec); err != nil {
		logger.Warnf("[decisionlog] insert failed: %v", err)
	}
}

// Insert 写入一条日志，返回自增 id。
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	ts := rec.Timestamp
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	batchJSON, err := json.Marshal(rec.Batch)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO decision_logs
			(cycle_id, ts, model, assets, system_prompt, user_prompt, raw_output, batch_json,
			 failsafe, rounds, tool_calls, downgrades, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID,
		ts,
		rec.Model,
		encodeList(rec.Assets),
		rec.System,
		rec.User,
		rec.RawOutput,
		string(batchJSON),
		rec.Failsafe,
		rec.Rounds,
		rec.ToolCalls,
		strings.Join(rec.Downgrades, ","),
		rec.DurationMS,
		rec.Error,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List 按时间倒序返回日志。
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		where []string
		args  []any
	)
	if a := strings.ToUpper(strings.TrimSpace(q.Asset)); a != "" {
		where = append(where, "assets LIKE ?")
		args = append(args, "%,"+a+",%")
	}
	if c := strings.TrimSpace(q.CycleID); c != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, c)
	}
	if q.Failsafe {
		where = append(where, "failsafe <> ''")
	}
	var sb strings.Builder
	sb.WriteString(`SELECT id, cycle_id, ts, model, assets, system_prompt, user_prompt, raw_output,
		batch_json, failsafe, rounds, tool_calls, downgrades, duration_ms, error
		FROM decision_logs`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                                           Record
		cycleID, model, assets, system, user          sql.NullString
		raw, batchJSON, failsafe, downgrades, errText sql.NullString
	)
	if scanErr := rows.Scan(&rec.ID, &cycleID, &rec.Timestamp, &model, &assets, &system, &user, &raw,
		&batchJSON, &failsafe, &rec.Rounds, &rec.ToolCalls, &downgrades, &rec.DurationMS, &errText); scanErr != nil {
		return Record{}, scanErr
	}
	rec.CycleID = cycleID.String
	rec.Model = model.String
	rec.Assets = decodeList(assets.String)
	rec.System = system.String
	rec.User = user.String
	rec.RawOutput = raw.String
	rec.Failsafe = failsafe.String
	rec.Error = errText.String
	if d := strings.TrimSpace(downgrades.String); d != "" {
		rec.Downgrades = strings.Split(d, ",")
	}
	if batchJSON.String != "" {
		_ = json.Unmarshal([]byte(batchJSON.String), &rec.Batch)
	}
	return rec, nil
}

// encodeList 以 ",A,B," 形式保存，便于 LIKE 精确匹配单个资产。
func encodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	clean := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.ToUpper(strings.TrimSpace(it))
		if it != "" {
			clean = append(clean, it)
		}
	}
	if len(clean) == 0 {
		return ""
	}
	return "," + strings.Join(clean, ",") + ","
}

func decodeList(blob string) []string {
	blob = strings.Trim(blob, ",")
	if blob == "" {
		return nil
	}
	return strings.Split(blob, ",")
}
