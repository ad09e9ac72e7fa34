package task

import (
	"encoding/json"
	stdErrors "errors"

	xerrors "OneChain-Portal/internal/errors"
)

// Kind 表示作业类型。
type Kind string

const (
	// KindSimulate 编译并 dry-run 计划。
	KindSimulate Kind = "simulate"
	// KindExecute 编译计划并交给钱包签名执行，不会自动重试。
	KindExecute Kind = "execute"
)

// Status 表示作业在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome 保存一次作业执行的结果。
type Outcome struct {
	Digest string          `json:"digest,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Job 描述排队执行的模拟或执行作业。Payload 是原始请求。
type Job struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Network    string          `json:"network,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Digest     string          `json:"digest,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Done 判断作业是否已结束。
func (j *Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

var (
	// ErrJobNotFound 表示指定的作业不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示作业在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示作业已经结束。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示作业的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为指定的作业错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeJobNotFound:
		return stdErrors.Is(err, ErrJobNotFound)
	case CodeJobConflict:
		return stdErrors.Is(err, ErrJobConflict)
	case CodeJobCompleted:
		return stdErrors.Is(err, ErrJobCompleted)
	case CodeJobExhausted:
		return stdErrors.Is(err, ErrJobExhausted)
	}
	return xerrors.HasCode(err, target)
}

// IsValidStatus 检查给定的作业状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidKind 检查作业类型。
func IsValidKind(kind Kind) bool {
	return kind == KindSimulate || kind == KindExecute
}

func cloneJob(job *Job) *Job {
	clone := *job
	clone.Payload = append(json.RawMessage(nil), job.Payload...)
	if job.Result != nil {
		clone.Result = append(json.RawMessage(nil), job.Result...)
	}
	return &clone
}
