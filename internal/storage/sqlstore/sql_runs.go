package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// SQLRunRepository 在 MySQL 或 SQLite 中保存运行记录。
type SQLRunRepository struct {
	db    *DB
	owned bool
}

// NewSQLRunRepository 使用已迁移的连接池。Close 不会关闭共享的连接池。
func NewSQLRunRepository(db *DB) *SQLRunRepository {
	return &SQLRunRepository{db: db}
}

// OpenSQLRunRepository 打开独立的连接池。
func OpenSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化运行记录仓库失败")
	}
	return &SQLRunRepository{db: db, owned: true}, nil
}

const runColumns = `id, kind, network, sender, preset_id, steps, COALESCE(params, ''), status, digest,
        error_code, COALESCE(error_message, ''), gas_used, created_at`

// Save 写入一条运行记录。
func (s *SQLRunRepository) Save(ctx context.Context, record RunRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	params := ""
	if len(record.Params) > 0 {
		encoded, err := json.Marshal(record.Params)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行参数失败")
		}
		params = string(encoded)
	}
	steps := string(record.Steps)
	if steps == "" {
		steps = "[]"
	}

	const stmt = `INSERT INTO run_records
        (id, kind, network, sender, preset_id, steps, params, status, digest, error_code, error_message, gas_used, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Kind,
		record.Network,
		strings.ToLower(record.Sender),
		record.PresetID,
		steps,
		params,
		record.Status,
		record.Digest,
		record.ErrorCode,
		record.ErrorMessage,
		record.GasUsed,
		record.CreatedAt,
	); err != nil {
		if IsDuplicateKey(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "运行记录已存在", xerrors.WithMetadata("id", record.ID))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行记录失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *SQLRunRepository) Get(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM run_records WHERE id = ?`, id)
	record, err := scanRun(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, runNotFound(id)
		}
		return RunRecord{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	return record, nil
}

// List 查询最近的记录。
func (s *SQLRunRepository) List(ctx context.Context, query RunQuery) ([]RunRecord, error) {
	query.applyDefaults()

	stmt := `SELECT ` + runColumns + ` FROM run_records`
	var (
		conditions []string
		args       []any
	)
	if query.Sender != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, query.Sender)
	}
	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, query.Kind)
	}
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	stmt += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, query.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	defer rows.Close()

	records := make([]RunRecord, 0, query.Limit)
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行记录失败")
	}
	return records, nil
}

// Close 关闭自行打开的连接池。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		record RunRecord
		steps  string
		params string
	)
	if err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Network,
		&record.Sender,
		&record.PresetID,
		&steps,
		&params,
		&record.Status,
		&record.Digest,
		&record.ErrorCode,
		&record.ErrorMessage,
		&record.GasUsed,
		&record.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}
	record.Steps = json.RawMessage(steps)
	if params != "" {
		if err := json.Unmarshal([]byte(params), &record.Params); err != nil {
			return RunRecord{}, err
		}
	}
	return record, nil
}

var _ RunRepository = (*SQLRunRepository)(nil)
