// Package journal 以 JSONL 追加写入每个决策结果与对账事件，记录写入后不再修改。
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"perpagent/internal/logger"
)

// 非交易类条目的 action 取值。
const (
	ActionReconcileClose = "reconcile_close"
	ActionStalePrice     = "stale_price"
	ActionCycleSkipped   = "cycle_skipped"
	ActionError          = "execution_error"
	ActionManualClose    = "manual_close"

	ReasonNoPositionNoOrders = "no_position_no_orders"
	ReasonBreakerOpen        = "breaker_open"
)

// Entry 是日志中的一行。交易条目填写订单字段，hold 只有 rationale。
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	CycleID       string    `json:"cycle_id,omitempty"`
	Asset         string    `json:"asset,omitempty"`
	Action        string    `json:"action"`
	Kind          string    `json:"kind,omitempty"`
	AllocationUSD float64   `json:"allocation_usd,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	EntryPrice    float64   `json:"entry_price,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	TPPrice       *float64  `json:"tp_price,omitempty"`
	TPOrderID     string    `json:"tp_oid,omitempty"`
	TPRejected    string    `json:"tp_rejected,omitempty"`
	SLPrice       *float64  `json:"sl_price,omitempty"`
	SLOrderID     string    `json:"sl_oid,omitempty"`
	SLRejected    string    `json:"sl_rejected,omitempty"`
	Filled        *bool     `json:"filled,omitempty"`
	ExitPlan      string    `json:"exit_plan,omitempty"`
	Rationale     string    `json:"rationale,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Error         string    `json:"error,omitempty"`
	OpenedAt      time.Time `json:"opened_at,omitzero"`
}

// Writer 是执行引擎与调度器依赖的最小接口。
type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// Indexer 接收成功落盘的条目，用于建立可查询的副本（例如按资产过滤）。
type Indexer interface {
	IndexEntry(ctx context.Context, e Entry) error
}

// File 是基于单个 JSONL 文件的日志。写入串行化，读取按行解析。
type File struct {
	path    string
	mu      sync.Mutex
	indexer Indexer
	now     func() time.Time
}

func Open(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	_ = f.Close()
	return &File{path: path, now: time.Now}, nil
}

// WithIndexer 设置索引副本；索引失败只记录日志，不影响 JSONL 写入。
func (j *File) WithIndexer(idx Indexer) *File {
	j.indexer = idx
	return j
}

func (j *File) Path() string { return j.path }

func (j *File) Append(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	j.mu.Lock()
	err = appendLine(j.path, line)
	j.mu.Unlock()
	if err != nil {
		return err
	}
	if j.indexer != nil {
		if err := j.indexer.IndexEntry(ctx, e); err != nil {
			logger.Warnf("[journal] index entry asset=%s action=%s failed: %v", e.Asset, e.Action, err)
		}
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

// Tail 返回最后 n 条可解析的记录，旧的在前。n <= 0 返回全部。
func (j *File) Tail(n int) ([]Entry, error) {
	lines, err := j.TailRaw(n)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// TailRaw 返回最后 n 行原文（去掉空行）。
func (j *File) TailRaw(n int) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()
	return TailLines(f, n)
}

// TailLines 读取 r 的全部非空行并保留最后 n 行；/logs 接口也复用它读取文本日志。
func TailLines(r io.Reader, n int) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, string(line))
		if n > 0 && len(lines) > 2*n {
			lines = append([]string(nil), lines[len(lines)-n:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
