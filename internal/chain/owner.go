package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"OneChain-Portal/internal/ptb"
)

// 线上格式中的所有者类型。
const (
	OwnerAddress   = "AddressOwner"
	OwnerObject    = "ObjectOwner"
	OwnerShared    = "Shared"
	OwnerImmutable = "Immutable"
)

// Owner 是对象的所有权。节点把它编码为裸字符串（"Immutable"）或单键对象。
type Owner struct {
	Kind                 string
	Address              string
	InitialSharedVersion uint64
}

// UnmarshalJSON 解析节点输出的各种所有者格式。
func (o *Owner) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = Owner{}
		return nil
	}
	if data[0] == '"' {
		var kind string
		if err := json.Unmarshal(data, &kind); err != nil {
			return err
		}
		*o = Owner{Kind: kind}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for kind, value := range raw {
		switch kind {
		case OwnerAddress, OwnerObject:
			var addr string
			if err := json.Unmarshal(value, &addr); err != nil {
				return err
			}
			*o = Owner{Kind: kind, Address: addr}
			return nil
		case OwnerShared:
			var shared struct {
				InitialSharedVersion json.Number `json:"initial_shared_version"`
			}
			if err := json.Unmarshal(value, &shared); err != nil {
				return err
			}
			v, err := shared.InitialSharedVersion.Int64()
			if err != nil {
				return fmt.Errorf("共享对象初始版本非法: %w", err)
			}
			*o = Owner{Kind: kind, InitialSharedVersion: uint64(v)}
			return nil
		default:
			*o = Owner{Kind: kind}
			return nil
		}
	}
	*o = Owner{}
	return nil
}

// MarshalJSON 与 UnmarshalJSON 对应。
func (o Owner) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case "":
		return []byte("null"), nil
	case OwnerAddress, OwnerObject:
		return json.Marshal(map[string]string{o.Kind: o.Address})
	case OwnerShared:
		return json.Marshal(map[string]map[string]uint64{
			OwnerShared: {"initial_shared_version": o.InitialSharedVersion},
		})
	default:
		return json.Marshal(o.Kind)
	}
}

// IsAddress 判断所有者是否为指定账户。
func (o Owner) IsAddress(addr string) bool {
	return o.Kind == OwnerAddress && SameAddress(o.Address, addr)
}

// SameAddress 规范化后比较两个地址，"0x2" 与其补零形式相等。
func SameAddress(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	na, errA := ptb.NormalizeAddress(a)
	nb, errB := ptb.NormalizeAddress(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return na == nb
}

// suix_queryTransactionBlocks 接受的交易过滤类型。
const (
	FilterFromAddress   = "FromAddress"
	FilterToAddress     = "ToAddress"
	FilterInputObject   = "InputObject"
	FilterChangedObject = "ChangedObject"
)

// TransactionFilter 按单一条件筛选交易。
type TransactionFilter struct {
	Kind  string
	Value string
}

// MarshalJSON 把过滤条件编码为 {"<Kind>": "<Value>"}。
func (f TransactionFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{f.Kind: f.Value})
}
