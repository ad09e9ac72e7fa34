package task

import "context"

// Store 抽象了作业状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, outcome Outcome) error
	// MarkFailed 记录失败。terminal 为 false 时作业回到待处理状态，等待重投。
	MarkFailed(ctx context.Context, id string, code string, lastError string, terminal bool) error
	List(ctx context.Context, filter Filter) ([]*Job, error)
	Stats(ctx context.Context, filter Filter) (Stats, error)
	Close() error
}

// Stats 聚合了作业状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
