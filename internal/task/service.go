package task

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

// SubmitRequest 描述一次作业提交。ID 为空时自动生成，非空时提交是幂等的。
type SubmitRequest struct {
	ID      string          `json:"id,omitempty"`
	Kind    Kind            `json:"kind"`
	Network string          `json:"network,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Service 负责作业的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造作业服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的作业并推送到队列。执行类作业只允许一次尝试。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if !IsValidKind(req.Kind) {
		return nil, xerrors.New(CodeJobValidation, "作业类型必须是 simulate 或 execute",
			xerrors.WithMetadata("kind", string(req.Kind)))
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, xerrors.New(CodeJobValidation, "作业请求体必须是合法的 JSON")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	maxRetries := s.maxRetries
	if req.Kind == KindExecute {
		maxRetries = 1
	}
	job := &Job{
		ID:         jobID,
		Kind:       req.Kind,
		Network:    strings.TrimSpace(req.Network),
		Payload:    append(json.RawMessage(nil), req.Payload...),
		Status:     StatusPending,
		MaxRetries: maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, DeliveryFor(job)); err != nil {
		logger.L().Error("作业入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, string(CodeJobPublish), wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", jobID),
		slog.String("kind", string(job.Kind)),
		slog.String("network", job.Network),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, filter Filter) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, filter)
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, filter Filter) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, filter)
}

// WaitUntilCompleted 轮询作业直到结束或 ctx 超时。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待作业完成超时",
				xerrors.WithMetadata("job_id", id))
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}
