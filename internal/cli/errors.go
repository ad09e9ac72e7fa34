package cli

import (
	"errors"
	"fmt"
)

// ExitError 让 RunE 返回指定的退出码而不直接调用 os.Exit。
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError 创建带退出码的错误。
func NewExitError(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// IsExitError 提取 ExitError 中的退出码。
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
