package execution

import (
	"errors"
	"fmt"
)

// ExecutionError 描述单个资产的执行失败，不影响同批次其他资产。
type ExecutionError struct {
	Asset string
	Op    string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s %s: %v", e.Asset, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
