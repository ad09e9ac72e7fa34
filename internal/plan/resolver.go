package plan

import (
	"strconv"
	"strings"

	"OneChain-Portal/internal/ptb"
)

// 参数解析链识别的哨兵。
const (
	GasSentinel    = "gas"
	AmountSentinel = "amount"
)

// ArgumentResolver 尝试把 moveCall 的一个声明参数解析为交易参数。
// 返回 ok=false 表示不匹配，交给链上的下一个解析器。
type ArgumentResolver func(scope *Scope, raw string) (arg ptb.Argument, ok bool, err error)

// DefaultArgumentResolvers 返回默认解析链：
// gas 哨兵 → amount 哨兵 → 变量表 → 地址字面量 → 字符串字面量。
func DefaultArgumentResolvers() []ArgumentResolver {
	return []ArgumentResolver{
		ResolveGasCoin,
		ResolveAmount,
		ResolveVariable,
		ResolveAddressLiteral,
		ResolveStringLiteral,
	}
}

// ResolveGasCoin 把 "gas" 绑定到 gas coin 哨兵。
func ResolveGasCoin(_ *Scope, raw string) (ptb.Argument, bool, error) {
	if raw != GasSentinel {
		return ptb.Argument{}, false, nil
	}
	return ptb.GasCoin(), true, nil
}

// ResolveAmount 把 "amount" 绑定到参数袋中的金额（缺省为默认金额）。
func ResolveAmount(scope *Scope, raw string) (ptb.Argument, bool, error) {
	if raw != AmountSentinel {
		return ptb.Argument{}, false, nil
	}
	amount, err := scope.Amount("")
	if err != nil {
		return ptb.Argument{}, false, err
	}
	return scope.tx.PureU64(amount), true, nil
}

// ResolveVariable 在变量表中查找同名句柄。引用后续步骤的 ID 会返回错误。
func ResolveVariable(scope *Scope, raw string) (ptb.Argument, bool, error) {
	return scope.Lookup(raw)
}

// ResolveAddressLiteral 把 0x 开头的十六进制字面量作为地址纯值。
func ResolveAddressLiteral(scope *Scope, raw string) (ptb.Argument, bool, error) {
	if !ptb.IsAddressLike(raw) {
		return ptb.Argument{}, false, nil
	}
	arg, err := scope.tx.PureAddress(raw)
	if err != nil {
		return ptb.Argument{}, false, err
	}
	return arg, true, nil
}

// ResolveStringLiteral 兜底：把原始文本作为字符串纯值。
func ResolveStringLiteral(scope *Scope, raw string) (ptb.Argument, bool, error) {
	return scope.tx.PureString(raw), true, nil
}

// Scope 是单次编译的可变状态：交易构建器、参数袋与变量表。
// 每次编译都会新建 Scope，变量表不会跨编译共享。
type Scope struct {
	tx            *ptb.Transaction
	params        Params
	vars          map[string]ptb.Argument
	positions     map[string]int
	current       int
	defaultAmount string
}

func newScope(steps []Step, params Params, defaultAmount string) *Scope {
	positions := make(map[string]int, len(steps))
	for i, s := range steps {
		positions[s.ID] = i
	}
	return &Scope{
		tx:            ptb.New(),
		params:        params.Clone(),
		vars:          make(map[string]ptb.Argument),
		positions:     positions,
		defaultAmount: defaultAmount,
	}
}

// Transaction 返回正在构建的交易。
func (s *Scope) Transaction() *ptb.Transaction {
	return s.tx
}

// Params 返回参数袋副本。
func (s *Scope) Params() Params {
	return s.params.Clone()
}

// Lookup 在变量表中查找名称。名称属于当前或之后的步骤时视为前向引用并报错；
// 属于之前但没有产出句柄的步骤时同样报错；其它名称返回不匹配。
func (s *Scope) Lookup(name string) (ptb.Argument, bool, error) {
	if arg, ok := s.vars[name]; ok {
		return arg, true, nil
	}
	pos, isStep := s.positions[name]
	if !isStep {
		return ptb.Argument{}, false, nil
	}
	if pos >= s.current {
		return ptb.Argument{}, false, unresolved(name, "引用了尚未执行的步骤（前向引用）")
	}
	return ptb.Argument{}, false, unresolved(name, "引用的步骤没有产生可用的结果")
}

// Amount 按优先级解析金额：参数袋 → 步骤自带值 → 默认值。
func (s *Scope) Amount(stepDefault string) (uint64, error) {
	raw := s.params.Get(ParamAmount)
	source := "params"
	if raw == "" {
		raw, source = strings.TrimSpace(stepDefault), "step"
	}
	if raw == "" {
		raw, source = s.defaultAmount, "default"
	}
	if raw == "" {
		return 0, missingValue("缺少金额参数")
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, missingValue("金额 %q（来源 %s）不是合法的非负整数", raw, source)
	}
	return amount, nil
}

// bind 写入变量表。每个名称只能写入一次，也不能占用其它步骤的 ID。
func (s *Scope) bind(name string, arg ptb.Argument) error {
	if _, exists := s.vars[name]; exists {
		return unresolvedConflict(name)
	}
	if pos, isStep := s.positions[name]; isStep && pos != s.current {
		return unresolvedConflict(name)
	}
	s.vars[name] = arg
	return nil
}

// Variables 返回当前变量表中的名称。
func (s *Scope) Variables() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	return names
}

func (s *Scope) resolveRecipient(op TransferObjects) (string, error) {
	named := strings.TrimSpace(op.Recipient)
	if ptb.IsAddressLike(named) {
		return named, nil
	}
	candidates := []string{ParamRecipient, ParamSender, ParamAddress}
	if named != "" {
		candidates = append([]string{named}, candidates...)
	}
	for _, key := range candidates {
		if v := s.params.Get(key); v != "" {
			return v, nil
		}
	}
	return "", missingValue("转账缺少接收方地址（参数 %s/%s/%s 均为空）", ParamRecipient, ParamSender, ParamAddress)
}
