package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/observability/alerting"
	"OneChain-Portal/internal/observability/metrics"
	"OneChain-Portal/pkg/logger"
)

// Executor 执行一次作业。返回的错误决定作业是否重试。
type Executor interface {
	Run(ctx context.Context, job *Job) (*Outcome, error)
}

// ExecutorFunc 将函数适配为 Executor。
type ExecutorFunc func(ctx context.Context, job *Job) (*Outcome, error)

// Run 实现 Executor。
func (f ExecutorFunc) Run(ctx context.Context, job *Job) (*Outcome, error) {
	return f(ctx, job)
}

// Processor 负责从队列消费作业并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("processor")
	}
	return p
}

// Start 启动作业处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, d Delivery) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	jobID := d.JobID
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	if job.Kind != d.Kind {
		// 以存储中的类型为准，消息只是路由提示。
		p.logger.Warn("队列消息的作业类型与存储不一致",
			slog.String("job_id", jobID),
			slog.String("delivered", string(d.Kind)),
			slog.String("stored", string(job.Kind)))
	}

	outcome, runErr := p.executor.Run(ctx, job)
	if runErr != nil {
		return p.handleFailure(ctx, job, runErr)
	}

	var record Outcome
	if outcome != nil {
		record = *outcome
	}
	if err := p.store.MarkSucceeded(ctx, job.ID, record); err != nil {
		p.logger.Error("标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	metrics.ObserveJob(string(job.Kind), string(StatusSucceeded))
	logger.Audit().Info("作业执行成功",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("network", job.Network),
		slog.String("digest", record.Digest),
	)
	return nil
}

// handleFailure 记录失败并决定是否重投。执行类作业可能已经上链，从不重试。
func (p *Processor) handleFailure(ctx context.Context, job *Job, runErr error) error {
	code := xerrors.CodeOf(runErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(runErr) && job.Kind != KindExecute
	if stdErrors.Is(runErr, context.Canceled) {
		retryable = job.Kind != KindExecute
	}
	terminal := !retryable || job.Attempts >= job.MaxRetries

	// 进程退出时 ctx 已取消，状态仍需回写。
	storeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := p.store.MarkFailed(storeCtx, job.ID, string(code), runErr.Error(), terminal); err != nil {
		p.logger.Error("标记作业失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}

	status := StatusPending
	stage := "retry"
	switch {
	case terminal && !retryable:
		status, stage = StatusFailed, "non_retryable"
	case terminal:
		status, stage = StatusFailed, "exhausted"
	}
	metrics.ObserveJob(string(job.Kind), string(status))
	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Bool("terminal", terminal),
		slog.String("error", runErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)
	if terminal || xerrors.ShouldAlert(runErr) {
		p.emitAlert(ctx, job, code, runErr, stage)
	}

	if !terminal && ctx.Err() == nil {
		if err := p.producer.Publish(ctx, DeliveryFor(job)); err != nil {
			return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		p.logger.Debug("作业已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		if digest, ok := xerrors.MetadataValue(cause, "digest"); ok {
			metadata["digest"] = digest
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Kind:       string(job.Kind),
		Network:    job.Network,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
