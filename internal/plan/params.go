package plan

import "strings"

// 参数袋中的常用槽位。
const (
	ParamRecipient = "recipient"
	ParamAmount    = "amount"
	ParamSender    = "senderAddress"
	ParamAddress   = "address"
)

// Params 是每次编译提供一次的字符串参数袋。缺失的槽位是合法的。
type Params map[string]string

// Get 返回去除首尾空白后的参数值。
func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

// Sender 返回发送方地址，优先 senderAddress，其次 address。
func (p Params) Sender() string {
	if v := p.Get(ParamSender); v != "" {
		return v
	}
	return p.Get(ParamAddress)
}

// Clone 复制参数袋。
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With 返回带有额外参数的副本，原参数袋保持不变。
func (p Params) With(key, value string) Params {
	out := p.Clone()
	if out == nil {
		out = Params{}
	}
	out[key] = value
	return out
}
