package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OneChain-Portal/internal/errors"
)

// MemoryStore 以内存方式保存作业状态，适用于单进程部署与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回作业。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将待处理作业更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch job.Status {
	case StatusSucceeded, StatusFailed:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		return cloneJob(job), ErrJobConflict
	}
	if job.Attempts >= job.MaxRetries {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = append([]byte(nil), outcome.Result...)
	job.Digest = outcome.Digest
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记作业失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code string, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusPending
	if terminal {
		job.Status = StatusFailed
	}
	job.LastError = lastError
	job.ErrorCode = code
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的作业。
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Job, error) {
	filter = filter.normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if filter.Match(job) {
			results = append(results, cloneJob(job))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if filter.Oldest {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if filter.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[filter.Offset:]
	if len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的作业数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, filter Filter) (Stats, error) {
	filter = filter.normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, job := range m.jobs {
		if !filter.Match(job) {
			continue
		}
		stats.Total++
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if job.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = job.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (job.UpdatedAt != 0 && job.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = job.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func validateJob(job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "作业 ID 不能为空")
	}
	if !IsValidKind(job.Kind) {
		return xerrors.New(CodeJobValidation, "未知的作业类型", xerrors.WithMetadata("kind", string(job.Kind)))
	}
	return nil
}
