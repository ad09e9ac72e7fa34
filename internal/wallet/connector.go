package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"

	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/pkg/logger"
)

// Execution modes reported in results.
const (
	ModeSignAndExecute = "sign-and-execute"
	ModeSignThenSubmit = "sign-then-submit"
)

// Session 是当前连接的钱包与账户。
type Session struct {
	Wallet  Info    `json:"wallet"`
	Account Account `json:"account"`
}

// Result 是签名并执行的结果摘要。
type Result struct {
	Digest  string                    `json:"digest"`
	Status  string                    `json:"status"`
	Error   string                    `json:"error,omitempty"`
	GasUsed *chain.GasCostSummary     `json:"gasUsed,omitempty"`
	Effects *chain.TransactionEffects `json:"effects,omitempty"`
	Mode    string                    `json:"mode"`
}

// Connector 负责钱包发现、连接和交易签名执行。
type Connector struct {
	bridge    Bridge
	preferred []string
	required  []string
	logger    *slog.Logger

	mu      sync.Mutex
	session *Session
}

// Option 定义连接器的可选配置。
type Option func(*Connector)

// WithPreferredWallets 覆盖首选钱包列表。
func WithPreferredWallets(names ...string) Option {
	return func(c *Connector) {
		if len(names) > 0 {
			c.preferred = append([]string(nil), names...)
		}
	}
}

// WithRequiredFeatures 覆盖连接所需能力。
func WithRequiredFeatures(features ...string) Option {
	return func(c *Connector) {
		if len(features) > 0 {
			c.required = append([]string(nil), features...)
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnector 创建连接器。
func NewConnector(bridge Bridge, opts ...Option) *Connector {
	c := &Connector{
		bridge:    bridge,
		preferred: PreferredWallets,
		required:  RequiredFeatures,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("wallet")
	}
	return c
}

// Select 从钱包列表中挑选：首选列表中第一个满足能力要求的钱包，
// 否则任意一个满足要求的钱包。
func Select(wallets []Info, preferred, required []string) (Info, bool) {
	for _, name := range preferred {
		for _, w := range wallets {
			if w.Name == name && w.HasAll(required) {
				return w, true
			}
		}
	}
	for _, w := range wallets {
		if w.HasAll(required) {
			return w, true
		}
	}
	return Info{}, false
}

// Connect 发现并连接钱包，使用其第一个账户。
func (c *Connector) Connect(ctx context.Context) (Session, error) {
	wallets, err := c.bridge.Wallets(ctx)
	if err != nil {
		return Session{}, err
	}
	selected, ok := Select(wallets, c.preferred, c.required)
	if !ok {
		return Session{}, xerrors.New(CodeNoWallet, "没有找到兼容的 OneChain 钱包")
	}
	if len(selected.Accounts) == 0 {
		return Session{}, xerrors.New(CodeNoWallet, "钱包没有可用账户", xerrors.WithMetadata("wallet", selected.Name))
	}

	session := Session{Wallet: selected, Account: selected.Accounts[0]}
	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()

	c.logger.Info("钱包已连接",
		slog.String("wallet", selected.Name),
		slog.String("account", session.Account.Address))
	return session, nil
}

// Session 返回当前会话。
func (c *Connector) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Disconnect 断开当前钱包；钱包不支持断开时只清除本地会话。
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil || !session.Wallet.Has(FeatureDisconnect) {
		return nil
	}
	return c.bridge.Disconnect(ctx, session.Wallet.Name)
}

// Execute 让钱包签名并执行交易。钱包支持 signAndExecute 时直接提交交易文档；
// 只支持签名时先在本地构建交易字节，签名后通过节点提交。
func (c *Connector) Execute(ctx context.Context, client chain.Client, tx *ptb.Transaction) (Result, error) {
	session, ok := c.Session()
	if !ok {
		return Result{}, xerrors.New(CodeNotConnected, "请先连接钱包")
	}
	if tx == nil {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "交易为空")
	}
	if err := CheckSender(session, tx); err != nil {
		return Result{}, err
	}
	chainID := "onechain:" + client.Network().Name

	var (
		result Result
		err    error
	)
	switch {
	case session.Wallet.Has(FeatureSignAndExecute):
		result, err = c.signAndExecute(ctx, session, chainID, tx)
	case session.Wallet.Has(FeatureSignTransaction), session.Wallet.Has(FeatureSignTransactionOld):
		result, err = c.signThenSubmit(ctx, session, chainID, client, tx)
	default:
		return Result{}, xerrors.New(CodeUnsupported, "钱包不支持交易签名", xerrors.WithMetadata("wallet", session.Wallet.Name))
	}
	if err != nil {
		return Result{}, err
	}

	logger.Audit().Info("交易已提交",
		slog.String("digest", result.Digest),
		slog.String("status", result.Status),
		slog.String("wallet", session.Wallet.Name),
		slog.String("mode", result.Mode))
	if result.Status == "failure" {
		return result, xerrors.New(CodeExecutionFailed, "交易执行失败: "+result.Error,
			xerrors.WithMetadata("digest", result.Digest))
	}
	return result, nil
}

// CheckSender 要求交易发送方与钱包账户一致；交易未指定发送方时使用钱包账户。
func CheckSender(session Session, tx *ptb.Transaction) error {
	account, err := ptb.ParseAddress(session.Account.Address)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "钱包账户地址非法")
	}
	sender, hasSender := tx.Sender()
	if !hasSender {
		return tx.SetSender(account.String())
	}
	if sender != account {
		return xerrors.New(CodeSenderMismatch, "交易发送方与钱包账户不一致",
			xerrors.WithMetadata("sender", sender.String()),
			xerrors.WithMetadata("account", account.String()))
	}
	return nil
}

func (c *Connector) signAndExecute(ctx context.Context, session Session, chainID string, tx *ptb.Transaction) (Result, error) {
	doc, err := json.Marshal(tx)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化交易失败")
	}
	raw, err := c.bridge.SignAndExecute(ctx, SignAndExecuteRequest{
		Wallet:      session.Wallet.Name,
		Account:     session.Account.Address,
		Chain:       chainID,
		Transaction: doc,
	})
	if err != nil {
		return Result{}, err
	}
	var block chain.TransactionBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return Result{}, xerrors.Wrap(CodeBridgeFailure, err, "解析钱包执行结果失败")
	}
	return summarize(block, ModeSignAndExecute), nil
}

func (c *Connector) signThenSubmit(ctx context.Context, session Session, chainID string, client chain.Client, tx *ptb.Transaction) (Result, error) {
	txBytes, err := client.BuildTransaction(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	signed, err := c.bridge.Sign(ctx, SignRequest{
		Wallet:           session.Wallet.Name,
		Account:          session.Account.Address,
		Chain:            chainID,
		TransactionBytes: base64.StdEncoding.EncodeToString(txBytes),
	})
	if err != nil {
		return Result{}, err
	}
	submitBytes := txBytes
	if signed.Bytes != "" {
		decoded, err := base64.StdEncoding.DecodeString(signed.Bytes)
		if err != nil {
			return Result{}, xerrors.Wrap(CodeRejected, err, "钱包返回的交易字节不是合法的 base64")
		}
		submitBytes = decoded
	}
	block, err := client.ExecuteSigned(ctx, submitBytes, []string{signed.Signature})
	if err != nil {
		return Result{}, err
	}
	return summarize(block, ModeSignThenSubmit), nil
}

func summarize(block chain.TransactionBlock, mode string) Result {
	res := Result{Digest: block.Digest, Mode: mode, Status: "submitted"}
	if block.Effects != nil {
		res.Effects = block.Effects
		res.GasUsed = block.Effects.GasUsed
		res.Status = block.Effects.Status.Status
		res.Error = block.Effects.Status.Error
		if res.Digest == "" {
			res.Digest = block.Effects.TransactionDigest
		}
	}
	return res
}
