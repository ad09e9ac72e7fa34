package wallet

import (
	"context"
	"encoding/json"

	xerrors "OneChain-Portal/internal/errors"
)

// Wallet Standard 能力名称。
const (
	FeatureConnect            = "standard:connect"
	FeatureDisconnect         = "standard:disconnect"
	FeatureSignAndExecute     = "sui:signAndExecuteTransaction"
	FeatureSignTransaction    = "sui:signTransaction"
	FeatureSignTransactionOld = "sui:signTransactionBlock"
)

// PreferredWallets 按优先级排列的首选钱包。
var PreferredWallets = []string{"OneChain Wallet", "OneLabs Wallet"}

// RequiredFeatures 是连接钱包的最低要求。
var RequiredFeatures = []string{FeatureConnect}

const (
	CodeNoWallet        xerrors.Code = "WALLET_NOT_FOUND"
	CodeNotConnected    xerrors.Code = "WALLET_NOT_CONNECTED"
	CodeUnsupported     xerrors.Code = "WALLET_UNSUPPORTED"
	CodeRejected        xerrors.Code = "WALLET_REJECTED"
	CodeExecutionFailed xerrors.Code = "TRANSACTION_FAILED"
	CodeBridgeFailure   xerrors.Code = "WALLET_BRIDGE_FAILURE"
	CodeSenderMismatch  xerrors.Code = "WALLET_SENDER_MISMATCH"
)

func init() {
	xerrors.Register(CodeNoWallet, xerrors.Attributes{Message: "no compatible wallet", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{Message: "wallet not connected", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeUnsupported, xerrors.Attributes{Message: "wallet lacks required feature", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRejected, xerrors.Attributes{Message: "wallet rejected request", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{Message: "transaction execution failed", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeBridgeFailure, xerrors.Attributes{Message: "wallet bridge unavailable", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
	xerrors.Register(CodeSenderMismatch, xerrors.Attributes{Message: "sender differs from wallet account", Severity: xerrors.SeverityInfo})
}

// Account 是钱包暴露的一个账户。
type Account struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`
	Label     string `json:"label,omitempty"`
}

// Info 描述桥接服务发现的一个钱包。
type Info struct {
	Name     string    `json:"name"`
	Icon     string    `json:"icon,omitempty"`
	Accounts []Account `json:"accounts"`
	Chains   []string  `json:"chains"`
	Features []string  `json:"features"`
}

// Has 判断钱包是否声明了某项能力。
func (i Info) Has(feature string) bool {
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasAll 判断钱包是否具备全部能力。
func (i Info) HasAll(features []string) bool {
	for _, f := range features {
		if !i.Has(f) {
			return false
		}
	}
	return true
}

// SignAndExecuteRequest 交由钱包签名并提交。
type SignAndExecuteRequest struct {
	Wallet      string          `json:"wallet"`
	Account     string          `json:"account"`
	Chain       string          `json:"chain"`
	Transaction json.RawMessage `json:"transaction"`
}

// SignRequest 只请求签名，提交由节点客户端完成。
type SignRequest struct {
	Wallet           string `json:"wallet"`
	Account          string `json:"account"`
	Chain            string `json:"chain"`
	TransactionBytes string `json:"transactionBytes"`
}

// SignedTransaction 是钱包签名结果，字段均为 base64。
type SignedTransaction struct {
	Bytes     string `json:"bytes"`
	Signature string `json:"signature"`
}

// Bridge 是与浏览器钱包通信的传输层。
type Bridge interface {
	Wallets(ctx context.Context) ([]Info, error)
	SignAndExecute(ctx context.Context, req SignAndExecuteRequest) (json.RawMessage, error)
	Sign(ctx context.Context, req SignRequest) (SignedTransaction, error)
	Disconnect(ctx context.Context, wallet string) error
}
