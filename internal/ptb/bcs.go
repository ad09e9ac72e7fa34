package ptb

import (
	"bytes"
	"encoding/binary"

	"github.com/mr-tron/base58"

	xerrors "OneChain-Portal/internal/errors"
)

// ObjectRef 唯一标识某个版本的对象。Digest 为 base58 编码。
type ObjectRef struct {
	ObjectID Address `json:"objectId"`
	Version  uint64  `json:"version,string"`
	Digest   string  `json:"digest"`
}

// ObjectArgKind 与链上 ObjectArg 枚举的变体序号一致。
type ObjectArgKind uint8

const (
	ObjectImmOrOwned ObjectArgKind = iota
	ObjectShared
	ObjectReceiving
)

// ObjectArg 是对象输入在构建时的完整形式。
type ObjectArg struct {
	Kind                 ObjectArgKind
	Ref                  ObjectRef
	InitialSharedVersion uint64
	Mutable              bool
}

// BuildOptions 提供序列化交易所需的链上信息。
type BuildOptions struct {
	GasPrice   uint64
	GasOwner   *Address
	GasPayment []ObjectRef
	Objects    map[Address]ObjectArg
	// ExpirationEpoch 为 0 表示不过期。
	ExpirationEpoch uint64
}

// Build 把交易编码为 TransactionData::V1 的 BCS 字节。
func (t *Transaction) Build(opts BuildOptions) ([]byte, error) {
	if t.sender == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "构建交易前必须设置发送方")
	}
	if t.gasBudget == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "gas 预算必须大于 0")
	}
	price := t.gasPrice
	if price == 0 {
		price = opts.GasPrice
	}
	if price == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 gas 单价")
	}
	if len(opts.GasPayment) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少 gas 支付对象")
	}
	owner := *t.sender
	if opts.GasOwner != nil {
		owner = *opts.GasOwner
	}

	w := &bcsWriter{}
	w.variant(0) // TransactionData::V1
	w.variant(0) // TransactionKind::ProgrammableTransaction

	w.uleb128(uint64(len(t.inputs)))
	for _, in := range t.inputs {
		if err := w.input(in, opts.Objects); err != nil {
			return nil, err
		}
	}
	w.uleb128(uint64(len(t.commands)))
	for _, cmd := range t.commands {
		w.command(cmd)
	}

	w.address(*t.sender)

	w.uleb128(uint64(len(opts.GasPayment)))
	for _, ref := range opts.GasPayment {
		if err := w.objectRef(ref); err != nil {
			return nil, err
		}
	}
	w.address(owner)
	w.u64(price)
	w.u64(t.gasBudget)

	if opts.ExpirationEpoch > 0 {
		w.variant(1)
		w.u64(opts.ExpirationEpoch)
	} else {
		w.variant(0)
	}
	return w.Bytes(), nil
}

type bcsWriter struct {
	buf bytes.Buffer
}

func (w *bcsWriter) Bytes() []byte { return w.buf.Bytes() }

func (w *bcsWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *bcsWriter) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *bcsWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *bcsWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *bcsWriter) uleb128(v uint64) {
	for v >= 0x80 {
		w.buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.buf.WriteByte(byte(v))
}

func (w *bcsWriter) variant(idx uint64) { w.uleb128(idx) }

func (w *bcsWriter) bytes(b []byte) {
	w.uleb128(uint64(len(b)))
	w.buf.Write(b)
}

func (w *bcsWriter) str(s string) { w.bytes([]byte(s)) }

func (w *bcsWriter) address(a Address) { w.buf.Write(a[:]) }

func (w *bcsWriter) objectRef(ref ObjectRef) error {
	digest, err := base58.Decode(ref.Digest)
	if err != nil || len(digest) != 32 {
		return xerrors.New(xerrors.CodeInvalidArgument, "对象摘要格式非法",
			xerrors.WithMetadata("object_id", ref.ObjectID.String()))
	}
	w.address(ref.ObjectID)
	w.u64(ref.Version)
	w.bytes(digest)
	return nil
}

func (w *bcsWriter) input(in Input, objects map[Address]ObjectArg) error {
	if in.Kind == InputPure {
		w.variant(0)
		w.bytes(in.Pure)
		return nil
	}
	arg, ok := objects[in.ObjectID]
	if !ok {
		return xerrors.New(xerrors.CodeInvalidArgument, "对象输入尚未解析",
			xerrors.WithMetadata("object_id", in.ObjectID.String()))
	}
	w.variant(1)
	switch arg.Kind {
	case ObjectShared:
		w.variant(1)
		w.address(in.ObjectID)
		w.u64(arg.InitialSharedVersion)
		w.boolean(arg.Mutable)
		return nil
	case ObjectReceiving:
		w.variant(2)
	default:
		w.variant(0)
	}
	return w.objectRef(arg.Ref)
}

func (w *bcsWriter) argument(a Argument) {
	w.variant(uint64(a.Kind))
	switch a.Kind {
	case ArgInput, ArgResult:
		w.u16(a.Index)
	case ArgNestedResult:
		w.u16(a.Index)
		w.u16(a.Nested)
	}
}

func (w *bcsWriter) arguments(args []Argument) {
	w.uleb128(uint64(len(args)))
	for _, a := range args {
		w.argument(a)
	}
}

func (w *bcsWriter) command(cmd Command) {
	switch c := cmd.(type) {
	case MoveCallCommand:
		w.variant(0)
		w.address(c.Package)
		w.str(c.Module)
		w.str(c.Function)
		w.uleb128(uint64(len(c.TypeArguments)))
		for _, tag := range c.TypeArguments {
			w.typeTag(tag)
		}
		w.arguments(c.Arguments)
	case TransferObjects:
		w.variant(1)
		w.arguments(c.Objects)
		w.argument(c.Address)
	case SplitCoins:
		w.variant(2)
		w.argument(c.Coin)
		w.arguments(c.Amounts)
	}
}

func (w *bcsWriter) typeTag(t TypeTag) {
	w.variant(uint64(t.Kind))
	switch t.Kind {
	case TypeVector:
		w.typeTag(*t.Elem)
	case TypeStruct:
		w.address(t.Struct.Address)
		w.str(t.Struct.Module)
		w.str(t.Struct.Name)
		w.uleb128(uint64(len(t.Struct.TypeParams)))
		for _, p := range t.Struct.TypeParams {
			w.typeTag(p)
		}
	}
}
