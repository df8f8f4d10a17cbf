package decision

import (
	"errors"
	"fmt"
)

var (
	// ErrToolLoopExceeded 与 ErrSchemaViolation 只用于日志和指标，决策调用不会返回它们。
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
	ErrSchemaViolation  = errors.New("model output not coercible")
)

// TransportError 表示能力降级用尽后仍无法完成的模型调用，调度器据此跳过本轮。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
