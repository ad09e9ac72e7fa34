package plan

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/pkg/logger"
)

const (
	// DefaultGasBudget 在计划没有 setGasBudget 步骤时使用。
	DefaultGasBudget uint64 = 10_000_000
	// DefaultAmount 在参数袋与步骤都没有金额时使用（1 OCT）。
	DefaultAmount = "1000000000"
)

// Compiler 把计划翻译为交易。它不做任何 I/O，可以被并发调用。
type Compiler struct {
	logger        *slog.Logger
	gasBudget     uint64
	gasPrice      uint64
	defaultAmount string
	resolvers     []ArgumentResolver
}

// Option 定义编译器的可选配置。
type Option func(*Compiler)

// WithLogger 指定跳过未知步骤时使用的日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultGasBudget 覆盖默认 gas 预算。
func WithDefaultGasBudget(budget uint64) Option {
	return func(c *Compiler) {
		if budget > 0 {
			c.gasBudget = budget
		}
	}
}

// WithGasPrice 固定 gas 单价；0 表示构建时查询链上参考价格。
func WithGasPrice(price uint64) Option {
	return func(c *Compiler) {
		c.gasPrice = price
	}
}

// WithDefaultAmount 覆盖默认金额。
func WithDefaultAmount(amount string) Option {
	return func(c *Compiler) {
		if strings.TrimSpace(amount) != "" {
			c.defaultAmount = strings.TrimSpace(amount)
		}
	}
}

// WithArgumentResolvers 替换 moveCall 参数解析链。
func WithArgumentResolvers(resolvers ...ArgumentResolver) Option {
	return func(c *Compiler) {
		if len(resolvers) > 0 {
			c.resolvers = append([]ArgumentResolver(nil), resolvers...)
		}
	}
}

// NewCompiler 构造编译器。
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		gasBudget:     DefaultGasBudget,
		defaultAmount: DefaultAmount,
		resolvers:     DefaultArgumentResolvers(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("ptb-compiler")
	}
	return c
}

// Compile 使用默认配置编译步骤。
func Compile(steps []Step, params Params, opts ...Option) (*ptb.Transaction, error) {
	return NewCompiler(opts...).Compile(steps, params)
}

// SkippedStep 记录编译时被跳过的未知步骤。
type SkippedStep struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Result 是一次编译的完整输出。
type Result struct {
	Transaction *ptb.Transaction
	Skipped     []SkippedStep
	Variables   []string
}

// Compile 把步骤与参数袋翻译为交易。
func (c *Compiler) Compile(steps []Step, params Params) (*ptb.Transaction, error) {
	res, err := c.Run(steps, params)
	if err != nil {
		return nil, err
	}
	return res.Transaction, nil
}

// Run 与 Compile 相同，但同时返回被跳过的步骤与最终变量表。
func (c *Compiler) Run(steps []Step, params Params) (*Result, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	scope := newScope(steps, params, c.defaultAmount)
	if sender := scope.params.Sender(); sender != "" {
		if err := scope.tx.SetSender(sender); err != nil {
			return nil, xerrors.Wrap(CodeBuilderRejected, err, "发送方地址非法",
				xerrors.WithMetadata("param", ParamSender))
		}
	}
	scope.tx.SetGasBudget(c.gasBudget)
	if c.gasPrice > 0 {
		scope.tx.SetGasPrice(c.gasPrice)
	}

	result := &Result{Transaction: scope.tx}
	for i, step := range steps {
		scope.current = i
		if unknown, ok := step.Op.(UnknownOp); ok || step.Op == nil {
			kind := unknown.Name
			c.logger.Warn("跳过未知类型的步骤",
				slog.String("step_id", step.ID),
				slog.String("kind", kind),
				slog.Int("index", i))
			result.Skipped = append(result.Skipped, SkippedStep{ID: step.ID, Label: step.Label, Kind: kind})
			continue
		}
		if err := c.apply(scope, step); err != nil {
			return nil, wrapStepError(step, i, err)
		}
	}
	result.Variables = scope.Variables()
	sort.Strings(result.Variables)
	return result, nil
}

// apply 执行单个步骤。构建器内部的 panic 也会转换为错误。
func (c *Compiler) apply(scope *Scope, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeBuilderRejected, fmt.Sprintf("构建器异常: %v", r))
		}
	}()

	switch op := step.Op.(type) {
	case SetGasBudget:
		if op.Budget == 0 {
			return missingValue("gas 预算必须大于 0")
		}
		scope.tx.SetGasBudget(op.Budget)
		return nil
	case SplitCoin:
		return c.split(scope, step.ID, op)
	case MoveCall:
		return c.moveCall(scope, step.ID, op)
	case TransferObjects:
		return c.transfer(scope, op)
	case AssignVariable:
		return c.assign(scope, op)
	}
	return xerrors.New(CodeInvalidPlan, fmt.Sprintf("不支持的步骤载荷 %T", step.Op))
}

func (c *Compiler) split(scope *Scope, id string, op SplitCoin) error {
	amount, err := scope.Amount(op.Amount)
	if err != nil {
		return err
	}
	source, err := c.coinSource(scope, op.Source)
	if err != nil {
		return err
	}
	handles, err := scope.tx.SplitCoins(source, []ptb.Argument{scope.tx.PureU64(amount)})
	if err != nil {
		return err
	}
	return scope.bind(id, handles[0])
}

func (c *Compiler) coinSource(scope *Scope, raw string) (ptb.Argument, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == GasSentinel {
		return ptb.GasCoin(), nil
	}
	arg, ok, err := scope.Lookup(raw)
	if err != nil {
		return ptb.Argument{}, err
	}
	if ok {
		return arg, nil
	}
	if ptb.IsAddressLike(raw) {
		return scope.tx.Object(raw)
	}
	return ptb.Argument{}, unresolved(raw, "拆分来源既不是 gas 也不是已知变量")
}

func (c *Compiler) moveCall(scope *Scope, id string, op MoveCall) error {
	if strings.TrimSpace(op.Target) == "" {
		return missingValue("Move 调用缺少目标函数")
	}
	args := make([]ptb.Argument, 0, len(op.Arguments))
	for _, raw := range op.Arguments {
		arg, err := c.resolveArgument(scope, raw)
		if err != nil {
			return err
		}
		args = append(args, arg)
	}
	result, err := scope.tx.MoveCall(ptb.MoveCall{
		Target:        op.Target,
		Arguments:     args,
		TypeArguments: op.TypeArguments,
	})
	if err != nil {
		return err
	}
	return scope.bind(id, result)
}

func (c *Compiler) resolveArgument(scope *Scope, raw string) (ptb.Argument, error) {
	raw = strings.TrimSpace(raw)
	for _, resolve := range c.resolvers {
		arg, ok, err := resolve(scope, raw)
		if err != nil {
			return ptb.Argument{}, err
		}
		if ok {
			return arg, nil
		}
	}
	return ptb.Argument{}, unresolved(raw, "没有解析器能处理该参数")
}

func (c *Compiler) transfer(scope *Scope, op TransferObjects) error {
	if len(op.Objects) == 0 {
		return missingValue("转账步骤没有指定对象")
	}
	objects := make([]ptb.Argument, 0, len(op.Objects))
	for _, raw := range op.Objects {
		raw = strings.TrimSpace(raw)
		arg, ok, err := scope.Lookup(raw)
		if err != nil {
			return err
		}
		if !ok {
			if !ptb.IsAddressLike(raw) {
				return unresolved(raw, "转账对象既不是已知变量也不是对象 ID")
			}
			if arg, err = scope.tx.Object(raw); err != nil {
				return err
			}
		}
		objects = append(objects, arg)
	}

	recipient, err := scope.resolveRecipient(op)
	if err != nil {
		return err
	}
	to, err := scope.tx.PureAddress(recipient)
	if err != nil {
		return err
	}
	return scope.tx.TransferObjects(objects, to)
}

func (c *Compiler) assign(scope *Scope, op AssignVariable) error {
	target := strings.TrimSpace(op.Variable)
	source := strings.TrimSpace(op.Value)
	if target == "" || source == "" {
		return missingValue("变量赋值需要 variable 与 value")
	}
	arg, ok, err := scope.Lookup(source)
	if err != nil {
		return err
	}
	if !ok {
		return unresolved(source, "变量不存在")
	}
	return scope.bind(target, arg)
}
