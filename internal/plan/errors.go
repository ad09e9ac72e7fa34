package plan

import (
	"fmt"
	"strconv"

	xerrors "OneChain-Portal/internal/errors"
)

const (
	// CodeMissingValue 表示步骤需要的参数在参数袋中缺失。
	CodeMissingValue xerrors.Code = "PTB_MISSING_VALUE"
	// CodeUnresolvedReference 表示步骤引用了尚未生成或不存在的变量。
	CodeUnresolvedReference xerrors.Code = "PTB_UNRESOLVED_REFERENCE"
	// CodeBuilderRejected 表示交易构建器拒绝了步骤的输入。
	CodeBuilderRejected xerrors.Code = "PTB_BUILDER_REJECTED"
	// CodeInvalidPlan 表示计划结构本身非法，例如步骤 ID 重复。
	CodeInvalidPlan xerrors.Code = "PTB_INVALID_PLAN"
	// CodeUnknownPreset 表示请求的预设不存在。
	CodeUnknownPreset xerrors.Code = "PTB_UNKNOWN_PRESET"
)

// 步骤错误携带的元数据键。
const (
	MetaStepID    = "step_id"
	MetaStepLabel = "step_label"
	MetaStepIndex = "step_index"
	MetaStepKind  = "step_kind"
)

func init() {
	for code, msg := range map[xerrors.Code]string{
		CodeMissingValue:        "missing required value",
		CodeUnresolvedReference: "unresolvable variable reference",
		CodeBuilderRejected:     "transaction builder rejected step",
		CodeInvalidPlan:         "invalid plan",
		CodeUnknownPreset:       "unknown preset",
	} {
		xerrors.Register(code, xerrors.Attributes{
			Message:   msg,
			Severity:  xerrors.SeverityInfo,
			Retryable: false,
			Alert:     false,
		})
	}
}

// FailedStep 从编译错误中取出失败步骤的 ID 与标签。
func FailedStep(err error) (id, label string, ok bool) {
	id, ok = xerrors.MetadataValue(err, MetaStepID)
	if !ok {
		return "", "", false
	}
	label, _ = xerrors.MetadataValue(err, MetaStepLabel)
	return id, label, true
}

// IsCompileError 判断错误是否由编译器产生。
func IsCompileError(err error) bool {
	switch xerrors.CodeOf(err) {
	case CodeMissingValue, CodeUnresolvedReference, CodeBuilderRejected, CodeInvalidPlan, CodeUnknownPreset:
		return true
	}
	return false
}

func missingValue(format string, args ...any) error {
	return xerrors.New(CodeMissingValue, fmt.Sprintf(format, args...))
}

func unresolved(name, reason string) error {
	return xerrors.New(CodeUnresolvedReference, reason, xerrors.WithMetadata("reference", name))
}

// wrapStepError 给步骤内产生的错误加上步骤上下文。编译器自身的错误码保持不变，
// 构建器返回的其余错误统一归为 PTB_BUILDER_REJECTED。
func wrapStepError(step Step, index int, err error) error {
	code := xerrors.CodeOf(err)
	switch code {
	case CodeMissingValue, CodeUnresolvedReference, CodeInvalidPlan:
	default:
		code = CodeBuilderRejected
	}
	label := step.Label
	if label == "" {
		label = defaultLabel(step.Kind())
	}
	return xerrors.Wrap(code, err, fmt.Sprintf("步骤 %q（%s）编译失败", step.ID, label),
		xerrors.WithMetadata(MetaStepID, step.ID),
		xerrors.WithMetadata(MetaStepLabel, label),
		xerrors.WithMetadata(MetaStepIndex, itoa(index)),
		xerrors.WithMetadata(MetaStepKind, string(step.Kind())),
	)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func unresolvedConflict(name string) error {
	return xerrors.New(CodeInvalidPlan, "变量名已被占用", xerrors.WithMetadata("variable", name))
}
