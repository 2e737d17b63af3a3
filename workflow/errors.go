package workflow

import (
	"errors"
	"fmt"

	"github.com/BaSui01/campaignflow/types"
)

var (
	ErrWorkflowNotFound   = types.NewError(types.ErrWorkflowNotFound, "workflow not found")
	ErrGraphNotFound      = types.NewError(types.ErrGraphNotFound, "graph not found")
	ErrInvalidTransition  = types.NewError(types.ErrInvalidTransition, "invalid status transition")
	ErrGraphConfig        = types.NewError(types.ErrGraphConfig, "graph configuration error")
	ErrCheckpointNotFound = types.NewError(types.ErrCheckpointNotFound, "checkpoint not found")
	ErrWorkflowAborted    = types.NewError(types.ErrWorkflowAborted, "workflow aborted")
	ErrRetriesExhausted   = types.NewError(types.ErrStageFailed, "node retry budget exhausted")
)

// graphConfigError 图配置错误，对当前实例致命
func graphConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGraphConfig, fmt.Sprintf(format, args...))
}

// IsGraphConfigError 报告是否为图配置错误
func IsGraphConfigError(err error) bool {
	return errors.Is(err, ErrGraphConfig)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记处理器错误不可重试，直接走错误边或失败
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 报告错误是否被标记为不可重试
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// PanicError 处理器或条件函数 panic 时的包装
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
