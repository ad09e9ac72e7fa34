package plan

import (
	"strings"

	"github.com/google/uuid"

	xerrors "OneChain-Portal/internal/errors"
)

// Plan 是有序的步骤列表，可以来自预设或由用户逐步组装。
// Plan 不是并发安全的，每个编辑会话持有自己的实例。
type Plan struct {
	PresetID string `json:"presetId,omitempty"`
	Name     string `json:"name,omitempty"`
	Steps    []Step `json:"steps"`
}

// New 用给定步骤创建计划。
func New(steps ...Step) *Plan {
	p := &Plan{}
	for _, s := range steps {
		p.Steps = append(p.Steps, s.Clone())
	}
	return p
}

// FromPreset 以预设为模板创建计划。
func FromPreset(id string) (*Plan, error) {
	preset, ok := PresetByID(id)
	if !ok {
		return nil, xerrors.New(CodeUnknownPreset, "预设不存在", xerrors.WithMetadata("preset", id))
	}
	p := New(preset.Steps...)
	p.PresetID = preset.ID
	p.Name = preset.Name
	return p, nil
}

// NewStepID 生成新的步骤 ID。
func NewStepID() string {
	return "step-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Len 返回步骤数。
func (p *Plan) Len() int {
	return len(p.Steps)
}

// Add 在末尾追加步骤，ID 为空时自动生成。
func (p *Plan) Add(step Step) (Step, error) {
	return p.Insert(len(p.Steps), step)
}

// Insert 在 index 位置插入步骤。
func (p *Plan) Insert(index int, step Step) (Step, error) {
	if step.Op == nil {
		return Step{}, xerrors.New(CodeInvalidPlan, "步骤缺少载荷")
	}
	if index < 0 || index > len(p.Steps) {
		return Step{}, xerrors.New(xerrors.CodeInvalidArgument, "插入位置越界")
	}
	step = step.Clone()
	step.ID = strings.TrimSpace(step.ID)
	if step.ID == "" {
		step.ID = NewStepID()
	}
	if p.indexOf(step.ID) >= 0 {
		return Step{}, xerrors.New(CodeInvalidPlan, "步骤 ID 重复", xerrors.WithMetadata("step_id", step.ID))
	}
	if step.Label == "" {
		step.Label = defaultLabel(step.Kind())
	}
	p.Steps = append(p.Steps, Step{})
	copy(p.Steps[index+1:], p.Steps[index:])
	p.Steps[index] = step
	p.PresetID = ""
	return step, nil
}

// Remove 删除指定步骤。
func (p *Plan) Remove(id string) error {
	idx := p.indexOf(id)
	if idx < 0 {
		return stepNotFound(id)
	}
	p.Steps = append(p.Steps[:idx], p.Steps[idx+1:]...)
	p.PresetID = ""
	return nil
}

// Update 用新的标签与载荷替换同 ID 的步骤，位置不变。
func (p *Plan) Update(step Step) error {
	idx := p.indexOf(step.ID)
	if idx < 0 {
		return stepNotFound(step.ID)
	}
	if step.Op == nil {
		return xerrors.New(CodeInvalidPlan, "步骤缺少载荷", xerrors.WithMetadata("step_id", step.ID))
	}
	if step.Label == "" {
		step.Label = p.Steps[idx].Label
	}
	p.Steps[idx] = step.Clone()
	p.PresetID = ""
	return nil
}

// Move 把步骤移动到新位置，执行顺序随之改变。
func (p *Plan) Move(id string, to int) error {
	idx := p.indexOf(id)
	if idx < 0 {
		return stepNotFound(id)
	}
	if to < 0 || to >= len(p.Steps) {
		return xerrors.New(xerrors.CodeInvalidArgument, "目标位置越界")
	}
	step := p.Steps[idx]
	p.Steps = append(p.Steps[:idx], p.Steps[idx+1:]...)
	p.Steps = append(p.Steps, Step{})
	copy(p.Steps[to+1:], p.Steps[to:])
	p.Steps[to] = step
	p.PresetID = ""
	return nil
}

// Reset 清空计划。
func (p *Plan) Reset() {
	p.Steps = nil
	p.PresetID = ""
	p.Name = ""
}

// Step 按 ID 查找步骤。
func (p *Plan) Step(id string) (Step, bool) {
	idx := p.indexOf(id)
	if idx < 0 {
		return Step{}, false
	}
	return p.Steps[idx].Clone(), true
}

// Clone 深拷贝计划。
func (p *Plan) Clone() *Plan {
	out := New(p.Steps...)
	out.PresetID = p.PresetID
	out.Name = p.Name
	return out
}

// Validate 检查步骤 ID 非空且唯一。
func (p *Plan) Validate() error {
	return validateSteps(p.Steps)
}

func (p *Plan) indexOf(id string) int {
	for i, s := range p.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return xerrors.New(CodeInvalidPlan, "计划不包含任何步骤")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if strings.TrimSpace(s.ID) == "" {
			return xerrors.New(CodeInvalidPlan, "步骤 ID 不能为空", xerrors.WithMetadata("step_index", itoa(i)))
		}
		if _, dup := seen[s.ID]; dup {
			return xerrors.New(CodeInvalidPlan, "步骤 ID 重复", xerrors.WithMetadata("step_id", s.ID))
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func stepNotFound(id string) error {
	return xerrors.New(xerrors.CodeNotFound, "步骤不存在", xerrors.WithMetadata("step_id", id))
}

func defaultLabel(kind Kind) string {
	switch kind {
	case KindSplit:
		return "Split Coin"
	case KindMoveCall:
		return "Move Call"
	case KindTransfer:
		return "Transfer Objects"
	case KindAssignVariable:
		return "Assign Variable"
	case KindSetGasBudget:
		return "Set Gas Budget"
	default:
		return string(kind)
	}
}
