// Package format 提供 CLI 与看板共用的展示格式化函数。
package format

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DefaultAddressLength 是地址两端各保留的字符数。
const DefaultAddressLength = 6

// OCTDecimals 是 OCT 的精度。
const OCTDecimals = 9

// Address 把地址缩写为 前 n 位...后 n 位。长度不超过 2n 时原样返回。
func Address(addr string, n int) string {
	if n <= 0 {
		n = DefaultAddressLength
	}
	if len(addr) <= n*2 {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}

// Balance 把最小单位的整数余额换算为带六位小数的字符串。无法解析时返回 0.000000。
func Balance(raw string, decimals int) string {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return "0.000000"
	}
	if decimals < 0 {
		decimals = 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, scale).FloatString(6)
}

// Truncate 截断超过 n 个字符的文本并追加省略号。
func Truncate(text string, n int) string {
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// TimeAgo 把毫秒时间戳描述为距 now 的相对时间。
func TimeAgo(ms int64, now time.Time) string {
	diff := now.Sub(time.UnixMilli(ms))
	switch {
	case diff >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int64(diff/(24*time.Hour)))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int64(diff/time.Hour))
	case diff >= time.Minute:
		return fmt.Sprintf("%dm ago", int64(diff/time.Minute))
	default:
		return "Just now"
	}
}
