package decision

import (
	"context"
	"time"
)

const (
	FailsafeParseError  = "parse_error"
	FailsafeToolLoopCap = "tool_loop_cap"
)

// Invocation 汇总一次 Decide 调用，供审计日志持久化。
type Invocation struct {
	CycleID    string
	Model      string
	Assets     []string
	System     string
	User       string
	RawOutput  string
	Batch      Batch
	Failsafe   string
	Rounds     int
	ToolCalls  int
	Downgrades []string
	Err        string
	StartedAt  time.Time
	Duration   time.Duration
}

// Recorder 接收每次调用的审计信息；写入失败由实现自行记录日志。
type Recorder interface {
	RecordInvocation(ctx context.Context, inv Invocation)
}
