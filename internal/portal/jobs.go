package portal

import (
	"context"
	"encoding/json"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/task"
)

// JobExecutor 把排队的模拟与执行作业交给 Service。
type JobExecutor struct {
	service *Service
}

// NewJobExecutor 创建作业执行器。
func NewJobExecutor(s *Service) *JobExecutor {
	return &JobExecutor{service: s}
}

// Run 实现 task.Executor。请求体非法时返回不可重试的错误。
func (e *JobExecutor) Run(ctx context.Context, job *task.Job) (*task.Outcome, error) {
	var req PlanRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return nil, xerrors.Wrap(task.CodeJobValidation, err, "解析作业请求失败",
			xerrors.WithRetryable(false),
			xerrors.WithMetadata("job_id", job.ID))
	}
	if req.Network == "" {
		req.Network = job.Network
	}

	var (
		result any
		digest string
		err    error
	)
	switch job.Kind {
	case task.KindSimulate:
		var out *SimulateResult
		out, err = e.service.Simulate(ctx, req)
		result = out
	case task.KindExecute:
		var out *ExecuteResult
		out, err = e.service.Execute(ctx, req)
		if out != nil {
			digest = out.Result.Digest
		}
		result = out
	default:
		return nil, xerrors.New(task.CodeJobValidation, "未知的作业类型",
			xerrors.WithMetadata("kind", string(job.Kind)))
	}
	if err != nil {
		if digest != "" {
			return nil, xerrors.Wrap(xerrors.CodeOf(err), err, "交易执行失败", xerrors.WithMetadata("digest", digest))
		}
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, xerrors.Wrap(task.CodeJobProcessing, err, "序列化作业结果失败", xerrors.WithRetryable(false))
	}
	return &task.Outcome{Digest: digest, Result: raw}, nil
}

var _ task.Executor = (*JobExecutor)(nil)
