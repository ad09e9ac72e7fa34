package sqlstore

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// 运行类型。
const (
	RunSimulate = "simulate"
	RunExecute  = "execute"
)

// 运行结果状态。
const (
	RunSucceeded = "success"
	RunFailed    = "failure"
	RunRejected  = "rejected"
	RunErrored   = "error"
)

// CodeRunNotFound 表示运行记录不存在。
const CodeRunNotFound xerrors.Code = "RUN_NOT_FOUND"

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run record not found",
		Severity: xerrors.SeverityInfo,
	})
}

// RunRecord 记录一次模拟或执行。
type RunRecord struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Network      string            `json:"network"`
	Sender       string            `json:"sender,omitempty"`
	PresetID     string            `json:"presetId,omitempty"`
	Steps        json.RawMessage   `json:"steps"`
	Params       map[string]string `json:"params,omitempty"`
	Status       string            `json:"status"`
	Digest       string            `json:"digest,omitempty"`
	ErrorCode    string            `json:"errorCode,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	GasUsed      int64             `json:"gasUsed"`
	CreatedAt    int64             `json:"createdAt"`
}

// RunQuery 过滤运行记录。
type RunQuery struct {
	Limit  int
	Sender string
	Kind   string
}

func (q *RunQuery) applyDefaults() {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	q.Sender = strings.ToLower(strings.TrimSpace(q.Sender))
	q.Kind = strings.TrimSpace(q.Kind)
}

func (q RunQuery) matches(r RunRecord) bool {
	if q.Sender != "" && strings.ToLower(r.Sender) != q.Sender {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	return true
}

// RunRepository 抽象运行记录的持久化。
type RunRepository interface {
	Save(ctx context.Context, record RunRecord) error
	Get(ctx context.Context, id string) (RunRecord, error)
	List(ctx context.Context, query RunQuery) ([]RunRecord, error)
	Close() error
}

func runNotFound(id string) error {
	return xerrors.New(CodeRunNotFound, "运行记录不存在", xerrors.WithMetadata("id", id))
}

func validateRecord(record RunRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行记录 ID 不能为空")
	}
	if record.Kind != RunSimulate && record.Kind != RunExecute {
		return xerrors.New(xerrors.CodeInvalidArgument, "未知的运行类型", xerrors.WithMetadata("kind", record.Kind))
	}
	return nil
}
