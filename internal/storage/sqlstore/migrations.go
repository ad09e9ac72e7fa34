package sqlstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"OneChain-Portal/deploy/migrations"
	xerrors "OneChain-Portal/internal/errors"
)

// PortalTables 是门户迁移完成后必须存在的表。
var PortalTables = []string{"run_records", "job_states"}

// Migration 是一个已嵌入的 schema 版本。
type Migration struct {
	Version    string
	Name       string
	Checksum   string
	statements []string
}

// AppliedMigration 是 portal_migrations 表中的一行。
type AppliedMigration struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
}

func ledgerDDL(dialect string) string {
	if dialect == DialectSQLite {
		return `CREATE TABLE IF NOT EXISTS portal_migrations (
    version TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL,
    applied_at INTEGER NOT NULL
)`
	}
	return `CREATE TABLE IF NOT EXISTS portal_migrations (
    version VARCHAR(16) NOT NULL PRIMARY KEY,
    name VARCHAR(128) NOT NULL,
    checksum CHAR(64) NOT NULL,
    applied_at BIGINT NOT NULL
)`
}

// runMigrations 按版本顺序应用尚未执行的迁移。已执行迁移的内容被修改时拒绝启动。
func runMigrations(ctx context.Context, db *DB) error {
	if _, err := db.ExecContext(ctx, ledgerDDL(db.Dialect)); err != nil {
		return storageError(err, "创建 portal_migrations 表失败")
	}

	files, err := migrations.For(db.Dialect)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载迁移文件失败")
	}
	pending, err := LoadMigrations(files)
	if err != nil {
		return err
	}
	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	done := make(map[string]AppliedMigration, len(applied))
	for _, m := range applied {
		done[m.Version] = m
	}

	for _, m := range pending {
		if prev, ok := done[m.Version]; ok {
			if prev.Checksum != m.Checksum {
				return xerrors.New(xerrors.CodeConflict, "已执行的迁移内容被修改",
					xerrors.WithMetadata("version", m.Version),
					xerrors.WithMetadata("name", m.Name))
			}
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return checkPortalTables(ctx, db)
}

// AppliedMigrations 返回已执行的迁移，按版本排序。
func AppliedMigrations(ctx context.Context, db *DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, name, checksum, applied_at FROM portal_migrations ORDER BY version`)
	if err != nil {
		return nil, storageError(err, "查询 portal_migrations 失败")
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m         AppliedMigration
			appliedAt int64
		)
		if err := rows.Scan(&m.Version, &m.Name, &m.Checksum, &appliedAt); err != nil {
			return nil, storageError(err, "解析 portal_migrations 失败")
		}
		m.AppliedAt = time.Unix(appliedAt, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历 portal_migrations 失败")
	}
	return out, nil
}

func applyMigration(ctx context.Context, db *DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err, "开启迁移事务失败")
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageError(err, "执行迁移失败", xerrors.WithMetadata("migration", m.Name))
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO portal_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, time.Now().Unix()); err != nil {
		return storageError(err, "记录迁移版本失败", xerrors.WithMetadata("migration", m.Name))
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "提交迁移事务失败", xerrors.WithMetadata("migration", m.Name))
	}
	return nil
}

func checkPortalTables(ctx context.Context, db *DB) error {
	query := `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
	if db.Dialect == DialectSQLite {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	for _, table := range PortalTables {
		var n int
		if err := db.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
			return storageError(err, "检查数据表失败", xerrors.WithMetadata("table", table))
		}
		if n == 0 {
			return xerrors.New(xerrors.CodeInitializationFailure, "迁移后缺少数据表",
				xerrors.WithMetadata("table", table))
		}
	}
	return nil
}

// LoadMigrations 读取目录下的 NNNN_name.sql 文件。版本号重复视为错误。
func LoadMigrations(files fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取迁移目录失败")
	}

	seen := make(map[string]string)
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		version, ok := migrationVersion(name)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "迁移文件名必须以数字版本号开头",
				xerrors.WithMetadata("name", name))
		}
		if other, dup := seen[version]; dup {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "迁移版本号重复",
				xerrors.WithMetadata("version", version),
				xerrors.WithMetadata("name", name+","+other))
		}
		seen[version] = name

		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取迁移文件失败",
				xerrors.WithMetadata("name", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{
			Version:    version,
			Name:       name,
			Checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// splitSQLStatements 去掉 "--" 注释行后按分号切分语句。
func splitSQLStatements(content string) []string {
	var (
		b          strings.Builder
		statements []string
	)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, stmt := range strings.Split(b.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func migrationVersion(name string) (string, bool) {
	version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if version == "" {
		return "", false
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return version, true
}

func storageError(err error, message string, opts ...xerrors.Option) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message, opts...)
}
