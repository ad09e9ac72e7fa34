package ptb

import (
	"encoding/binary"
	"fmt"

	xerrors "OneChain-Portal/internal/errors"
)

// MaxCommands 是单个交易块允许的最大命令数。
const MaxCommands = 1024

// InputKind 区分纯值输入与对象输入。
type InputKind uint8

const (
	InputPure InputKind = iota
	InputObject
)

// Input 是交易的一个输入。对象输入在构建前只有对象 ID，
// 版本与摘要由链上查询补全。
type Input struct {
	Kind     InputKind
	Pure     []byte
	ObjectID Address
}

// Command 是交易块中的一条命令。
type Command interface {
	// Kind 返回命令的名称，例如 SplitCoins。
	Kind() string
	references() []Argument
}

// SplitCoins 从 Coin 中拆分出若干个新 coin。
type SplitCoins struct {
	Coin    Argument
	Amounts []Argument
}

// MoveCallCommand 调用一个 Move 函数。
type MoveCallCommand struct {
	Package       Address
	Module        string
	Function      string
	TypeArguments []TypeTag
	Arguments     []Argument
}

// TransferObjects 把对象转给接收方。
type TransferObjects struct {
	Objects []Argument
	Address Argument
}

func (SplitCoins) Kind() string      { return "SplitCoins" }
func (MoveCallCommand) Kind() string { return "MoveCall" }
func (TransferObjects) Kind() string { return "TransferObjects" }

func (c SplitCoins) references() []Argument {
	return append([]Argument{c.Coin}, c.Amounts...)
}

func (c MoveCallCommand) references() []Argument {
	return c.Arguments
}

func (c TransferObjects) references() []Argument {
	return append(append([]Argument(nil), c.Objects...), c.Address)
}

// MoveCall 描述一次 Move 调用请求。
type MoveCall struct {
	Target        string
	Arguments     []Argument
	TypeArguments []string
}

// Transaction 在内存中累积交易块的输入与命令，不做任何网络调用。
type Transaction struct {
	sender    *Address
	gasBudget uint64
	gasPrice  uint64
	inputs    []Input
	commands  []Command
	objects   map[Address]uint16
}

// New 创建空交易。
func New() *Transaction {
	return &Transaction{objects: make(map[Address]uint16)}
}

// SetSender 设置交易发送方。
func (t *Transaction) SetSender(addr string) error {
	parsed, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	t.sender = &parsed
	return nil
}

// Sender 返回发送方以及是否已设置。
func (t *Transaction) Sender() (Address, bool) {
	if t.sender == nil {
		return Address{}, false
	}
	return *t.sender, true
}

// SetGasBudget 覆盖 gas 预算。
func (t *Transaction) SetGasBudget(budget uint64) {
	t.gasBudget = budget
}

// GasBudget 返回当前 gas 预算。
func (t *Transaction) GasBudget() uint64 {
	return t.gasBudget
}

// SetGasPrice 指定 gas 单价；未设置时由构建方查询参考价格。
func (t *Transaction) SetGasPrice(price uint64) {
	t.gasPrice = price
}

// GasPrice 返回显式设置的 gas 单价，0 表示未设置。
func (t *Transaction) GasPrice() uint64 {
	return t.gasPrice
}

// PureBytes 添加一个已经 BCS 编码的纯值输入。
func (t *Transaction) PureBytes(b []byte) Argument {
	t.inputs = append(t.inputs, Input{Kind: InputPure, Pure: append([]byte(nil), b...)})
	return InputArg(uint16(len(t.inputs) - 1))
}

// PureU64 添加 u64 纯值输入。
func (t *Transaction) PureU64(v uint64) Argument {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return t.PureBytes(buf[:])
}

// PureAddress 添加地址纯值输入。
func (t *Transaction) PureAddress(addr string) (Argument, error) {
	parsed, err := ParseAddress(addr)
	if err != nil {
		return Argument{}, err
	}
	return t.PureBytes(parsed[:]), nil
}

// PureString 添加字符串纯值输入（长度前缀 + UTF-8 字节）。
func (t *Transaction) PureString(s string) Argument {
	w := &bcsWriter{}
	w.str(s)
	return t.PureBytes(w.Bytes())
}

// Object 添加对象输入，同一对象只会出现一次。
func (t *Transaction) Object(id string) (Argument, error) {
	parsed, err := ParseAddress(id)
	if err != nil {
		return Argument{}, err
	}
	if idx, ok := t.objects[parsed]; ok {
		return InputArg(idx), nil
	}
	t.inputs = append(t.inputs, Input{Kind: InputObject, ObjectID: parsed})
	idx := uint16(len(t.inputs) - 1)
	t.objects[parsed] = idx
	return InputArg(idx), nil
}

// SplitCoins 追加拆分命令，返回每个新 coin 的句柄。
func (t *Transaction) SplitCoins(coin Argument, amounts []Argument) ([]Argument, error) {
	if len(amounts) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "拆分数量列表不能为空")
	}
	cmd := SplitCoins{Coin: coin, Amounts: append([]Argument(nil), amounts...)}
	idx, err := t.addCommand(cmd)
	if err != nil {
		return nil, err
	}
	handles := make([]Argument, len(amounts))
	for i := range amounts {
		handles[i] = NestedResultArg(idx, uint16(i))
	}
	return handles, nil
}

// MoveCall 追加 Move 调用命令，返回调用结果句柄。
func (t *Transaction) MoveCall(call MoveCall) (Argument, error) {
	pkg, module, function, err := ParseTarget(call.Target)
	if err != nil {
		return Argument{}, err
	}
	cmd := MoveCallCommand{
		Package:   pkg,
		Module:    module,
		Function:  function,
		Arguments: append([]Argument(nil), call.Arguments...),
	}
	for _, raw := range call.TypeArguments {
		tag, err := ParseTypeTag(raw)
		if err != nil {
			return Argument{}, err
		}
		cmd.TypeArguments = append(cmd.TypeArguments, tag)
	}
	idx, err := t.addCommand(cmd)
	if err != nil {
		return Argument{}, err
	}
	return ResultArg(idx), nil
}

// TransferObjects 追加转账命令。
func (t *Transaction) TransferObjects(objects []Argument, recipient Argument) error {
	if len(objects) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "待转移对象列表不能为空")
	}
	for _, obj := range objects {
		if obj.Kind == ArgInput && int(obj.Index) < len(t.inputs) && t.inputs[obj.Index].Kind == InputPure {
			return xerrors.New(xerrors.CodeInvalidArgument, "纯值输入不能作为转移对象",
				xerrors.WithMetadata("argument", obj.String()))
		}
	}
	_, err := t.addCommand(TransferObjects{Objects: append([]Argument(nil), objects...), Address: recipient})
	return err
}

func (t *Transaction) addCommand(cmd Command) (uint16, error) {
	if len(t.commands) >= MaxCommands {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("交易命令数量超过上限 %d", MaxCommands))
	}
	for _, arg := range cmd.references() {
		if err := t.checkArgument(arg); err != nil {
			return 0, err
		}
	}
	t.commands = append(t.commands, cmd)
	return uint16(len(t.commands) - 1), nil
}

func (t *Transaction) checkArgument(arg Argument) error {
	switch arg.Kind {
	case ArgGasCoin:
		return nil
	case ArgInput:
		if int(arg.Index) < len(t.inputs) {
			return nil
		}
	case ArgResult:
		if int(arg.Index) < len(t.commands) {
			return nil
		}
	case ArgNestedResult:
		if int(arg.Index) < len(t.commands) {
			split, ok := t.commands[arg.Index].(SplitCoins)
			if !ok || int(arg.Nested) < len(split.Amounts) {
				return nil
			}
		}
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "参数引用越界",
		xerrors.WithMetadata("argument", arg.String()))
}

// Inputs 返回输入列表副本。
func (t *Transaction) Inputs() []Input {
	out := make([]Input, len(t.inputs))
	copy(out, t.inputs)
	return out
}

// Commands 返回命令列表副本。
func (t *Transaction) Commands() []Command {
	out := make([]Command, len(t.commands))
	copy(out, t.commands)
	return out
}

// UnresolvedObjects 返回需要查询版本与摘要的对象 ID，顺序与输入顺序一致。
func (t *Transaction) UnresolvedObjects() []Address {
	var ids []Address
	for _, in := range t.inputs {
		if in.Kind == InputObject {
			ids = append(ids, in.ObjectID)
		}
	}
	return ids
}

// PureU64Value 解码 u64 纯值输入，用于检查拆分金额。
func (t *Transaction) PureU64Value(arg Argument) (uint64, bool) {
	if arg.Kind != ArgInput || int(arg.Index) >= len(t.inputs) {
		return 0, false
	}
	in := t.inputs[arg.Index]
	if in.Kind != InputPure || len(in.Pure) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(in.Pure), true
}
