package task

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/storage/sqlstore"
)

const jobColumns = `id, kind, COALESCE(network, ''), payload, status, attempts, max_retries,
        COALESCE(last_error, ''), COALESCE(error_code, ''), COALESCE(result, ''), COALESCE(digest, ''),
        created_at, updated_at`

// SQLStore 使用 job_states 表记录作业状态，支持 MySQL 与 SQLite。
type SQLStore struct {
	db    *sqlstore.DB
	owned bool
	now   func() time.Time
}

// NewSQLStore 基于已迁移的连接池创建存储，Close 不会关闭连接池。
func NewSQLStore(db *sqlstore.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenSQLStore 打开独占的连接池并执行迁移。
func OpenSQLStore(ctx context.Context, cfg sqlstore.Config) (*SQLStore, error) {
	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开作业数据库失败")
	}
	return &SQLStore{db: db, owned: true, now: time.Now}, nil
}

// Create 插入新的作业记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	now := s.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}

	const stmt = `INSERT INTO job_states
        (id, kind, network, payload, status, attempts, max_retries, last_error, error_code, result, digest, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		job.ID,
		string(job.Kind),
		job.Network,
		string(job.Payload),
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if sqlstore.IsDuplicateKey(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入作业失败")
	}
	return nil
}

// Get 查询指定作业。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM job_states WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业失败")
	}
	return job, nil
}

// Claim 将待处理作业标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE job_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), s.now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新作业状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch job.Status {
	case StatusSucceeded, StatusFailed:
		return job, ErrJobCompleted
	case StatusRunning:
		return job, ErrJobConflict
	default:
		if job.Attempts >= job.MaxRetries {
			return job, ErrJobExhausted
		}
		return job, ErrJobConflict
	}
}

// MarkSucceeded 将作业标记为成功并保存结果。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, outcome Outcome) error {
	const stmt = `UPDATE job_states SET status = ?, result = ?, digest = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusSucceeded),
		string(outcome.Result),
		outcome.Digest,
		s.now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 记录失败。非终止失败使作业回到待处理状态。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code string, lastError string, terminal bool) error {
	const stmt = `UPDATE job_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx, stmt, string(status), lastError, code, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记作业失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合条件的作业。
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Job, error) {
	filter = filter.normalized()

	query := `SELECT ` + jobColumns + ` FROM job_states`
	clause, filterArgs := buildFilterClause(filter)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if filter.Oldest {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析作业记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历作业失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的作业聚合信息。
func (s *SQLStore) Stats(ctx context.Context, filter Filter) (Stats, error) {
	filter = filter.normalized()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM job_states`
	clause, filterArgs := buildFilterClause(filter)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询作业统计失败")
	}
	return stats, nil
}

// Close 关闭独占的连接池。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		kind    string
		status  string
		payload string
		result  string
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&job.Network,
		&payload,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&job.LastError,
		&job.ErrorCode,
		&result,
		&job.Digest,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.Payload = []byte(payload)
	if result != "" {
		job.Result = []byte(result)
	}
	return &job, nil
}

func buildFilterClause(f Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(f.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, status := range f.Statuses {
			args = append(args, string(status))
		}
	}
	if len(f.Kinds) > 0 {
		conditions = append(conditions, "kind IN ("+placeholders(len(f.Kinds))+")")
		for _, kind := range f.Kinds {
			args = append(args, string(kind))
		}
	}
	if f.Network != "" {
		conditions = append(conditions, "network = ?")
		args = append(args, f.Network)
	}
	if f.Digest != "" {
		conditions = append(conditions, "digest = ?")
		args = append(args, f.Digest)
	}
	if f.ErrorCode != "" {
		conditions = append(conditions, "error_code = ?")
		args = append(args, f.ErrorCode)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, f.Until.Unix())
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		conditions = append(conditions, "(LOWER(id) LIKE ? OR LOWER(payload) LIKE ? OR LOWER(COALESCE(digest, '')) LIKE ? OR LOWER(COALESCE(last_error, '')) LIKE ?)")
		args = append(args, like, like, like, like)
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ Store = (*SQLStore)(nil)
