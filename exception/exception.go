package exception

import (
	"errors"
	"fmt"
)

// 错误分类, errors.Is 判断
var (
	ErrConfig  = errors.New("config error")
	ErrConnect = errors.New("connect error")
	ErrLoad    = errors.New("load error")
	ErrTask    = errors.New("task error")
)

// JobError carries the failing module, a message and the underlying cause.
type JobError struct {
	Module      string
	Message     string
	OriginalErr error
	kind        error
}

func (e *JobError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

func (e *JobError) Unwrap() []error {
	errs := []error{e.kind}
	if e.OriginalErr != nil {
		errs = append(errs, e.OriginalErr)
	}
	return errs
}

func newError(kind error, module string, cause error, format string, args ...interface{}) *JobError {
	return &JobError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: cause,
		kind:        kind,
	}
}

func NewConfigError(module, format string, args ...interface{}) *JobError {
	return newError(ErrConfig, module, nil, format, args...)
}

func WrapConfigError(module string, cause error, format string, args ...interface{}) *JobError {
	return newError(ErrConfig, module, cause, format, args...)
}

func NewConnectError(module string, cause error, format string, args ...interface{}) *JobError {
	return newError(ErrConnect, module, cause, format, args...)
}

func NewLoadError(module string, cause error, format string, args ...interface{}) *JobError {
	return newError(ErrLoad, module, cause, format, args...)
}

func NewTaskError(module string, cause error, format string, args ...interface{}) *JobError {
	return newError(ErrTask, module, cause, format, args...)
}

func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}
