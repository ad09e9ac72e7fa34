package chain

import (
	xerrors "OneChain-Portal/internal/errors"
)

const (
	// CodeRPCFailure 表示节点返回了错误或无法访问。
	CodeRPCFailure xerrors.Code = "CHAIN_RPC_FAILURE"
	// CodeUnknownNetwork 表示请求的网络不在目录中。
	CodeUnknownNetwork xerrors.Code = "CHAIN_UNKNOWN_NETWORK"
	// CodeInsufficientGas 表示发送方没有足够的 gas coin 支付预算。
	CodeInsufficientGas xerrors.Code = "CHAIN_INSUFFICIENT_GAS"
	// CodeObjectUnavailable 表示交易引用的对象无法在链上解析。
	CodeObjectUnavailable xerrors.Code = "CHAIN_OBJECT_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeRPCFailure, xerrors.Attributes{
		Message:   "chain rpc failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeUnknownNetwork, xerrors.Attributes{
		Message:  "unknown network",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInsufficientGas, xerrors.Attributes{
		Message:  "insufficient gas",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeObjectUnavailable, xerrors.Attributes{
		Message:  "object unavailable",
		Severity: xerrors.SeverityInfo,
	})
}
