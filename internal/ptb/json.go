package ptb

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

// 钱包交易文档（version 2）。钱包桥接服务按该格式接收未签名交易。

type documentV2 struct {
	Version    int             `json:"version"`
	Sender     *string         `json:"sender"`
	Expiration any             `json:"expiration"`
	GasData    documentGasData `json:"gasData"`
	Inputs     []any           `json:"inputs"`
	Commands   []any           `json:"commands"`
}

type documentGasData struct {
	Budget  *string `json:"budget"`
	Price   *string `json:"price"`
	Owner   *string `json:"owner"`
	Payment any     `json:"payment"`
}

// MarshalJSON 输出钱包可识别的交易文档。
func (t *Transaction) MarshalJSON() ([]byte, error) {
	doc := documentV2{
		Version:  2,
		Inputs:   make([]any, 0, len(t.inputs)),
		Commands: make([]any, 0, len(t.commands)),
	}
	if t.sender != nil {
		s := t.sender.String()
		doc.Sender = &s
	}
	if t.gasBudget > 0 {
		b := strconv.FormatUint(t.gasBudget, 10)
		doc.GasData.Budget = &b
	}
	if t.gasPrice > 0 {
		p := strconv.FormatUint(t.gasPrice, 10)
		doc.GasData.Price = &p
	}
	for _, in := range t.inputs {
		doc.Inputs = append(doc.Inputs, inputDocument(in))
	}
	for _, cmd := range t.commands {
		doc.Commands = append(doc.Commands, commandDocument(cmd))
	}
	return json.Marshal(doc)
}

func inputDocument(in Input) map[string]any {
	if in.Kind == InputPure {
		return map[string]any{
			"$kind": "Pure",
			"Pure":  map[string]string{"bytes": base64.StdEncoding.EncodeToString(in.Pure)},
		}
	}
	return map[string]any{
		"$kind":            "UnresolvedObject",
		"UnresolvedObject": map[string]string{"objectId": in.ObjectID.String()},
	}
}

func argumentDocument(a Argument) map[string]any {
	switch a.Kind {
	case ArgInput:
		return map[string]any{"$kind": "Input", "Input": a.Index}
	case ArgResult:
		return map[string]any{"$kind": "Result", "Result": a.Index}
	case ArgNestedResult:
		return map[string]any{"$kind": "NestedResult", "NestedResult": []uint16{a.Index, a.Nested}}
	default:
		return map[string]any{"$kind": "GasCoin", "GasCoin": true}
	}
}

func argumentsDocument(args []Argument) []map[string]any {
	out := make([]map[string]any, 0, len(args))
	for _, a := range args {
		out = append(out, argumentDocument(a))
	}
	return out
}

func commandDocument(cmd Command) map[string]any {
	var body any
	switch c := cmd.(type) {
	case SplitCoins:
		body = map[string]any{
			"coin":    argumentDocument(c.Coin),
			"amounts": argumentsDocument(c.Amounts),
		}
	case MoveCallCommand:
		typeArgs := make([]string, 0, len(c.TypeArguments))
		for _, tag := range c.TypeArguments {
			typeArgs = append(typeArgs, tag.String())
		}
		body = map[string]any{
			"package":       c.Package.String(),
			"module":        c.Module,
			"function":      c.Function,
			"typeArguments": typeArgs,
			"arguments":     argumentsDocument(c.Arguments),
		}
	case TransferObjects:
		body = map[string]any{
			"objects": argumentsDocument(c.Objects),
			"address": argumentDocument(c.Address),
		}
	}
	return map[string]any{"$kind": cmd.Kind(), cmd.Kind(): body}
}
