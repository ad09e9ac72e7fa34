package ptb

import (
	"strings"

	xerrors "OneChain-Portal/internal/errors"
)

// TypeTagKind 与链上 TypeTag 枚举的变体序号一致。
type TypeTagKind uint8

const (
	TypeBool TypeTagKind = iota
	TypeU8
	TypeU64
	TypeU128
	TypeAddress
	TypeSigner
	TypeVector
	TypeStruct
	TypeU16
	TypeU32
	TypeU256
)

var primitiveTypes = map[string]TypeTagKind{
	"bool":    TypeBool,
	"u8":      TypeU8,
	"u16":     TypeU16,
	"u32":     TypeU32,
	"u64":     TypeU64,
	"u128":    TypeU128,
	"u256":    TypeU256,
	"address": TypeAddress,
	"signer":  TypeSigner,
}

// TypeTag 描述 Move 类型参数。
type TypeTag struct {
	Kind   TypeTagKind
	Elem   *TypeTag
	Struct *StructTag
}

// StructTag 描述形如 0x2::coin::Coin<T> 的结构体类型。
type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

// ParseTypeTag 解析 Move 类型字符串，例如 "u64"、"vector<u8>"、"0x2::coin::Coin<0x2::oct::OCT>"。
func ParseTypeTag(s string) (TypeTag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeTag{}, xerrors.New(xerrors.CodeInvalidArgument, "类型参数不能为空")
	}
	if kind, ok := primitiveTypes[s]; ok {
		return TypeTag{Kind: kind}, nil
	}
	if strings.HasPrefix(s, "vector<") {
		if !strings.HasSuffix(s, ">") {
			return TypeTag{}, invalidType(s)
		}
		elem, err := ParseTypeTag(s[len("vector<") : len(s)-1])
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: TypeVector, Elem: &elem}, nil
	}

	head, params := s, ""
	if idx := strings.IndexByte(s, '<'); idx >= 0 {
		if !strings.HasSuffix(s, ">") {
			return TypeTag{}, invalidType(s)
		}
		head, params = s[:idx], s[idx+1:len(s)-1]
	}
	parts := strings.Split(head, "::")
	if len(parts) != 3 || !isIdentifier(parts[1]) || !isIdentifier(parts[2]) {
		return TypeTag{}, invalidType(s)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return TypeTag{}, invalidType(s)
	}
	tag := &StructTag{Address: addr, Module: parts[1], Name: parts[2]}
	if params != "" {
		pieces, ok := splitTopLevel(params)
		if !ok {
			return TypeTag{}, invalidType(s)
		}
		for _, piece := range pieces {
			param, err := ParseTypeTag(piece)
			if err != nil {
				return TypeTag{}, err
			}
			tag.TypeParams = append(tag.TypeParams, param)
		}
	}
	return TypeTag{Kind: TypeStruct, Struct: tag}, nil
}

// String 返回规范化的类型字符串，系统地址保持短格式。
func (t TypeTag) String() string {
	switch t.Kind {
	case TypeVector:
		if t.Elem == nil {
			return "vector<?>"
		}
		return "vector<" + t.Elem.String() + ">"
	case TypeStruct:
		if t.Struct == nil {
			return "?"
		}
		var b strings.Builder
		b.WriteString(t.Struct.Address.ShortString())
		b.WriteString("::")
		b.WriteString(t.Struct.Module)
		b.WriteString("::")
		b.WriteString(t.Struct.Name)
		if len(t.Struct.TypeParams) > 0 {
			b.WriteString("<")
			for i, p := range t.Struct.TypeParams {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(p.String())
			}
			b.WriteString(">")
		}
		return b.String()
	}
	for name, kind := range primitiveTypes {
		if kind == t.Kind {
			return name
		}
	}
	return "?"
}

// ParseTarget 将 "0x2::coin::split" 拆分为包地址、模块名与函数名。
func ParseTarget(target string) (Address, string, string, error) {
	parts := strings.Split(strings.TrimSpace(target), "::")
	if len(parts) != 3 || !isIdentifier(parts[1]) || !isIdentifier(parts[2]) {
		return Address{}, "", "", xerrors.New(xerrors.CodeInvalidArgument, "Move 调用目标格式应为 package::module::function",
			xerrors.WithMetadata("target", target))
	}
	pkg, err := ParseAddress(parts[0])
	if err != nil {
		return Address{}, "", "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Move 调用目标包地址非法",
			xerrors.WithMetadata("target", target))
	}
	return pkg, parts[1], parts[2], nil
}

func splitTopLevel(s string) ([]string, bool) {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return nil, false
			}
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func invalidType(s string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "类型参数格式非法", xerrors.WithMetadata("type", s))
}
