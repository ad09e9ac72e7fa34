package ptb

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OneChain-Portal/internal/errors"
)

// AddressLength 是链上地址与对象 ID 的字节长度。
const AddressLength = 32

// Address 表示 32 字节的账户地址或对象 ID。
type Address [AddressLength]byte

var addressPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{1,64}$`)

// IsAddressLike 判断字符串是否为 0x 前缀的十六进制地址（允许省略前导零）。
func IsAddressLike(s string) bool {
	return addressPattern.MatchString(strings.TrimSpace(s))
}

// ParseAddress 解析地址，短地址（如 0x2）左侧补零到 32 字节。
func ParseAddress(s string) (Address, error) {
	var addr Address
	s = strings.TrimSpace(s)
	if s == "" {
		return addr, xerrors.New(xerrors.CodeInvalidArgument, "地址不能为空")
	}
	if !addressPattern.MatchString(s) {
		return addr, xerrors.New(xerrors.CodeInvalidArgument, "地址格式非法",
			xerrors.WithMetadata("address", s))
	}
	copy(addr[:], common.LeftPadBytes(common.FromHex(s), AddressLength))
	return addr, nil
}

// MustParseAddress 与 ParseAddress 相同，解析失败时 panic。仅用于常量。
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// NormalizeAddress 返回 66 个字符的完整小写地址。
func NormalizeAddress(s string) (string, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// String 返回完整的 0x 前缀十六进制表示。
func (a Address) String() string {
	return "0x" + common.Bytes2Hex(a[:])
}

// Bytes 返回 32 字节副本。
func (a Address) Bytes() []byte {
	out := make([]byte, len(a))
	copy(out, a[:])
	return out
}

// ShortString 去掉前导零，常用于 Move 类型中的系统包地址（0x2）。
func (a Address) ShortString() string {
	trimmed := strings.TrimLeft(common.Bytes2Hex(a[:]), "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return "0x" + trimmed
}

// IsZero 判断是否为零地址。
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText 实现 encoding.TextMarshaler。
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
