package ptb

import "fmt"

// ArgumentKind 与链上 Argument 枚举的变体序号一致。
type ArgumentKind uint8

const (
	ArgGasCoin ArgumentKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument 是交易内命令之间传递数据的句柄。
type Argument struct {
	Kind   ArgumentKind
	Index  uint16
	Nested uint16
}

// GasCoin 返回代表交易自身 gas 支付对象的哨兵参数。
func GasCoin() Argument {
	return Argument{Kind: ArgGasCoin}
}

// InputArg 引用第 i 个交易输入。
func InputArg(i uint16) Argument {
	return Argument{Kind: ArgInput, Index: i}
}

// ResultArg 引用第 i 条命令的返回值。
func ResultArg(i uint16) Argument {
	return Argument{Kind: ArgResult, Index: i}
}

// NestedResultArg 引用第 i 条命令返回的第 j 个值。
func NestedResultArg(i, j uint16) Argument {
	return Argument{Kind: ArgNestedResult, Index: i, Nested: j}
}

// IsGasCoin 判断是否为 gas coin 哨兵。
func (a Argument) IsGasCoin() bool {
	return a.Kind == ArgGasCoin
}

func (a Argument) String() string {
	switch a.Kind {
	case ArgGasCoin:
		return "GasCoin"
	case ArgInput:
		return fmt.Sprintf("Input(%d)", a.Index)
	case ArgResult:
		return fmt.Sprintf("Result(%d)", a.Index)
	case ArgNestedResult:
		return fmt.Sprintf("NestedResult(%d,%d)", a.Index, a.Nested)
	default:
		return fmt.Sprintf("Argument(%d)", a.Kind)
	}
}
