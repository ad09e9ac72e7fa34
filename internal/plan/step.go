package plan

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// Kind 是步骤类型的名称。
type Kind string

const (
	KindSplit          Kind = "split"
	KindMoveCall       Kind = "moveCall"
	KindTransfer       Kind = "transfer"
	KindAssignVariable Kind = "assignVariable"
	KindSetGasBudget   Kind = "setGasBudget"
)

// kindAliases 兼容前端历史版本中使用过的步骤类型名。
var kindAliases = map[string]Kind{
	"split":            KindSplit,
	"splitcoin":        KindSplit,
	"splitcoins":       KindSplit,
	"split_coin":       KindSplit,
	"movecall":         KindMoveCall,
	"move_call":        KindMoveCall,
	"transfer":         KindTransfer,
	"transferobjects":  KindTransfer,
	"transfer_objects": KindTransfer,
	"assignvariable":   KindAssignVariable,
	"assign_variable":  KindAssignVariable,
	"setgasbudget":     KindSetGasBudget,
	"gas_budget":       KindSetGasBudget,
	"gasbudget":        KindSetGasBudget,
}

// ParseKind 将外部输入的步骤类型名规范化。未知类型原样返回，ok 为 false。
func ParseKind(s string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return Kind(s), false
	}
	return k, true
}

// Op 是步骤的具体载荷。每种步骤类型对应一个实现。
type Op interface {
	Kind() Kind
	clone() Op
}

// SplitCoin 从 gas coin 或某个变量中拆出指定数量。
type SplitCoin struct {
	Amount string `json:"amount,omitempty"`
	// Source 为空或 "gas" 时使用 gas coin。
	Source string `json:"source,omitempty"`
}

// MoveCall 调用 Move 函数，参数按解析链逐个解析。
type MoveCall struct {
	Target        string   `json:"target"`
	Arguments     []string `json:"arguments,omitempty"`
	TypeArguments []string `json:"typeArguments,omitempty"`
}

// TransferObjects 把变量或对象转给接收方。Recipient 可以是地址字面量，
// 也可以是参数名；为空时依次回退到 recipient、senderAddress、address 参数。
type TransferObjects struct {
	Objects   []string `json:"objects"`
	Recipient string   `json:"recipient,omitempty"`
}

// AssignVariable 把 Value 变量的句柄复制到 Variable 名下。
type AssignVariable struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
}

// SetGasBudget 覆盖整笔交易的 gas 预算。
type SetGasBudget struct {
	Budget uint64 `json:"budget"`
}

// UnknownOp 保留无法识别的步骤，编译时跳过。
type UnknownOp struct {
	Name string
	Data json.RawMessage
}

func (SplitCoin) Kind() Kind       { return KindSplit }
func (MoveCall) Kind() Kind        { return KindMoveCall }
func (TransferObjects) Kind() Kind { return KindTransfer }
func (AssignVariable) Kind() Kind  { return KindAssignVariable }
func (SetGasBudget) Kind() Kind    { return KindSetGasBudget }
func (u UnknownOp) Kind() Kind     { return Kind(u.Name) }

func (o SplitCoin) clone() Op { return o }

func (o MoveCall) clone() Op {
	o.Arguments = append([]string(nil), o.Arguments...)
	o.TypeArguments = append([]string(nil), o.TypeArguments...)
	return o
}

func (o TransferObjects) clone() Op {
	o.Objects = append([]string(nil), o.Objects...)
	return o
}

func (o AssignVariable) clone() Op { return o }
func (o SetGasBudget) clone() Op   { return o }

func (o UnknownOp) clone() Op {
	o.Data = append(json.RawMessage(nil), o.Data...)
	return o
}

// UnmarshalJSON 兼容字符串与数字形式的预算。
func (o *SetGasBudget) UnmarshalJSON(data []byte) error {
	var raw struct {
		Budget json.RawMessage `json:"budget"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	budget, err := parseUint(raw.Budget)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "gas 预算必须是非负整数")
	}
	o.Budget = budget
	return nil
}

func parseUint(raw json.RawMessage) (uint64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, err
		}
		return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	}
	return strconv.ParseUint(string(trimmed), 10, 64)
}

// Step 是计划中的一个步骤。Label 仅用于展示。
type Step struct {
	ID    string
	Label string
	Op    Op
}

// Kind 返回步骤类型；Op 为空时返回空字符串。
func (s Step) Kind() Kind {
	if s.Op == nil {
		return ""
	}
	return s.Op.Kind()
}

// Clone 深拷贝步骤。
func (s Step) Clone() Step {
	if s.Op != nil {
		s.Op = s.Op.clone()
	}
	return s
}

type stepJSON struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind,omitempty"`
	Type        string          `json:"type,omitempty"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON 输出 {id, kind, label, data}。
func (s Step) MarshalJSON() ([]byte, error) {
	out := stepJSON{ID: s.ID, Label: s.Label}
	switch op := s.Op.(type) {
	case nil:
	case UnknownOp:
		out.Kind = op.Name
		out.Data = op.Data
	default:
		data, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		out.Kind = string(op.Kind())
		out.Data = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON 根据 kind（或历史字段 type）选择载荷类型。
func (s *Step) UnmarshalJSON(data []byte) error {
	var in stepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	name := in.Kind
	if name == "" {
		name = in.Type
	}
	label := in.Label
	if label == "" {
		label = in.Description
	}
	payload := in.Data
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}

	kind, known := ParseKind(name)
	var op Op
	if !known {
		op = UnknownOp{Name: name, Data: append(json.RawMessage(nil), in.Data...)}
	} else {
		decoded, err := decodeOp(kind, payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "步骤载荷格式非法",
				xerrors.WithMetadata("step_id", in.ID),
				xerrors.WithMetadata("step_kind", string(kind)))
		}
		op = decoded
	}
	*s = Step{ID: in.ID, Label: label, Op: op}
	return nil
}

func decodeOp(kind Kind, payload json.RawMessage) (Op, error) {
	switch kind {
	case KindSplit:
		var raw struct {
			Amount json.RawMessage `json:"amount"`
			Source string          `json:"source"`
		}
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, err
		}
		amount := ""
		if trimmed := bytes.TrimSpace(raw.Amount); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if trimmed[0] == '"' {
				if err := json.Unmarshal(trimmed, &amount); err != nil {
					return nil, err
				}
			} else {
				amount = string(trimmed)
			}
		}
		return SplitCoin{Amount: amount, Source: raw.Source}, nil
	case KindMoveCall:
		var op MoveCall
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindTransfer:
		var op TransferObjects
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindAssignVariable:
		var op AssignVariable
		err := json.Unmarshal(payload, &op)
		return op, err
	case KindSetGasBudget:
		var op SetGasBudget
		err := json.Unmarshal(payload, &op)
		return op, err
	}
	return UnknownOp{Name: string(kind), Data: payload}, nil
}
