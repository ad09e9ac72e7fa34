package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"OneChain-Portal/internal/ptb"
)

// Snapshot 是供界面展示的网络概要信息。
type Snapshot struct {
	Network           string `json:"network"`
	ChainID           string `json:"chainId"`
	Checkpoint        string `json:"checkpoint"`
	ReferenceGasPrice uint64 `json:"referenceGasPrice,string"`
	Notes             string `json:"notes,omitempty"`
}

// Balance 是 suix_getAllBalances 的一项。
type Balance struct {
	CoinType        string `json:"coinType"`
	CoinObjectCount int    `json:"coinObjectCount"`
	TotalBalance    string `json:"totalBalance"`
}

// Coin 是 suix_getCoins 返回的一个代币对象。
type Coin struct {
	CoinType     string `json:"coinType"`
	CoinObjectID string `json:"coinObjectId"`
	Version      string `json:"version"`
	Digest       string `json:"digest"`
	Balance      string `json:"balance"`
}

// Ref 把代币转换为可用于 gas 支付的对象引用。
func (c Coin) Ref() (ptb.ObjectRef, error) {
	id, err := ptb.ParseAddress(c.CoinObjectID)
	if err != nil {
		return ptb.ObjectRef{}, err
	}
	version, err := strconv.ParseUint(c.Version, 10, 64)
	if err != nil {
		return ptb.ObjectRef{}, fmt.Errorf("coin %s 版本号非法: %w", c.CoinObjectID, err)
	}
	return ptb.ObjectRef{ObjectID: id, Version: version, Digest: c.Digest}, nil
}

// CoinPage 是 suix_getCoins 的一页结果。
type CoinPage struct {
	Data        []Coin `json:"data"`
	NextCursor  string `json:"nextCursor,omitempty"`
	HasNextPage bool   `json:"hasNextPage"`
}

// ObjectData 是对象读取的内容。
type ObjectData struct {
	ObjectID string          `json:"objectId"`
	Version  json.Number     `json:"version"`
	Digest   string          `json:"digest"`
	Type     string          `json:"type,omitempty"`
	Owner    *Owner          `json:"owner,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Display  json.RawMessage `json:"display,omitempty"`
}

// Ref 把对象转换为对象引用。
func (o ObjectData) Ref() (ptb.ObjectRef, error) {
	id, err := ptb.ParseAddress(o.ObjectID)
	if err != nil {
		return ptb.ObjectRef{}, err
	}
	version, err := strconv.ParseUint(o.Version.String(), 10, 64)
	if err != nil {
		return ptb.ObjectRef{}, fmt.Errorf("对象 %s 版本号非法: %w", o.ObjectID, err)
	}
	return ptb.ObjectRef{ObjectID: id, Version: version, Digest: o.Digest}, nil
}

// ObjectError 在对象不存在或已删除时代替 data 返回。
type ObjectError struct {
	Code     string `json:"code"`
	ObjectID string `json:"object_id,omitempty"`
}

// ObjectResponse 包装单个对象的读取结果。
type ObjectResponse struct {
	Data  *ObjectData  `json:"data,omitempty"`
	Error *ObjectError `json:"error,omitempty"`
}

// ObjectPage 是 suix_getOwnedObjects 的一页结果。
type ObjectPage struct {
	Data        []ObjectResponse `json:"data"`
	NextCursor  string           `json:"nextCursor,omitempty"`
	HasNextPage bool             `json:"hasNextPage"`
}

// GasData 是交易的 gas 部分。
type GasData struct {
	Owner  string `json:"owner,omitempty"`
	Price  string `json:"price,omitempty"`
	Budget string `json:"budget,omitempty"`
}

// TransactionData 是交易块被签名的内容。
type TransactionData struct {
	Sender  string  `json:"sender,omitempty"`
	GasData GasData `json:"gasData"`
}

// TransactionEnvelope 是交易块的 "transaction" 字段。
type TransactionEnvelope struct {
	Data TransactionData `json:"data"`
}

// ExecutionStatus 表示交易是否执行成功。
type ExecutionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GasCostSummary 是 effects 中报告的 gas 消耗。
type GasCostSummary struct {
	ComputationCost         string `json:"computationCost"`
	StorageCost             string `json:"storageCost"`
	StorageRebate           string `json:"storageRebate"`
	NonRefundableStorageFee string `json:"nonRefundableStorageFee"`
}

// Net 返回 computation + storage - rebate，无法解析的字段按 0 计。
func (g GasCostSummary) Net() int64 {
	parse := func(s string) int64 {
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	return parse(g.ComputationCost) + parse(g.StorageCost) - parse(g.StorageRebate)
}

// OwnedObjectRef 是对象引用及其新所有者。
type OwnedObjectRef struct {
	Owner     Owner `json:"owner"`
	Reference struct {
		ObjectID string      `json:"objectId"`
		Version  json.Number `json:"version"`
		Digest   string      `json:"digest"`
	} `json:"reference"`
}

// TransactionEffects 是门户展示的 effects 子集。
type TransactionEffects struct {
	Status            ExecutionStatus  `json:"status"`
	GasUsed           *GasCostSummary  `json:"gasUsed,omitempty"`
	TransactionDigest string           `json:"transactionDigest,omitempty"`
	Created           []OwnedObjectRef `json:"created,omitempty"`
	Mutated           []OwnedObjectRef `json:"mutated,omitempty"`
	Deleted           json.RawMessage  `json:"deleted,omitempty"`
}

// Succeeded 判断执行状态是否为 success。
func (e *TransactionEffects) Succeeded() bool {
	return e != nil && e.Status.Status == "success"
}

// BalanceChange 是交易余额变化的一项。
type BalanceChange struct {
	Owner    Owner  `json:"owner"`
	CoinType string `json:"coinType"`
	Amount   string `json:"amount"`
}

// TransactionBlock 是查询与执行返回的交易。
type TransactionBlock struct {
	Digest         string               `json:"digest"`
	TimestampMs    string               `json:"timestampMs,omitempty"`
	Checkpoint     string               `json:"checkpoint,omitempty"`
	Transaction    *TransactionEnvelope `json:"transaction,omitempty"`
	Effects        *TransactionEffects  `json:"effects,omitempty"`
	Events         json.RawMessage      `json:"events,omitempty"`
	ObjectChanges  json.RawMessage      `json:"objectChanges,omitempty"`
	BalanceChanges []BalanceChange      `json:"balanceChanges,omitempty"`

	// QuerySource 与 TransactionType 由 History 填写。
	QuerySource     string `json:"querySource,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
}

// Sender 返回交易发送方，没有时返回空字符串。
func (t TransactionBlock) Sender() string {
	if t.Transaction == nil {
		return ""
	}
	return t.Transaction.Data.Sender
}

// Timestamp 以整数返回 timestampMs，缺失时排在最后。
func (t TransactionBlock) Timestamp() int64 {
	v, _ := strconv.ParseInt(t.TimestampMs, 10, 64)
	return v
}

// TransactionPage 是 suix_queryTransactionBlocks 的一页结果。
type TransactionPage struct {
	Data        []TransactionBlock `json:"data"`
	NextCursor  string             `json:"nextCursor,omitempty"`
	HasNextPage bool               `json:"hasNextPage"`
}

// TransactionQuery 描述一次 suix_queryTransactionBlocks 调用。
type TransactionQuery struct {
	Filter     *TransactionFilter
	Cursor     string
	Limit      int
	Descending bool
}

// TransactionPageResult 把批量查询与其结果配对。
type TransactionPageResult struct {
	Page TransactionPage
	Err  error
}

// DryRunResult 是 sui_dryRunTransactionBlock 的响应。
type DryRunResult struct {
	Effects        TransactionEffects `json:"effects"`
	Events         json.RawMessage    `json:"events,omitempty"`
	ObjectChanges  json.RawMessage    `json:"objectChanges,omitempty"`
	BalanceChanges []BalanceChange    `json:"balanceChanges,omitempty"`
}

// Client 定义链实现必须提供的统一接口，上层借此以相同方式访问不同网络。
type Client interface {
	Network() Network
	Snapshot(ctx context.Context) (Snapshot, error)
	Balances(ctx context.Context, owner string) ([]Balance, error)
	OwnedObjects(ctx context.Context, owner, cursor string, limit int) (ObjectPage, error)
	QueryTransactions(ctx context.Context, query TransactionQuery) (TransactionPage, error)
	BatchQueryTransactions(ctx context.Context, queries []TransactionQuery) ([]TransactionPageResult, error)
	ReferenceGasPrice(ctx context.Context) (uint64, error)
	Coins(ctx context.Context, owner, coinType string) ([]Coin, error)
	Objects(ctx context.Context, ids []string) ([]ObjectResponse, error)
	BuildTransaction(ctx context.Context, tx *ptb.Transaction) ([]byte, error)
	DryRun(ctx context.Context, tx *ptb.Transaction) (DryRunResult, error)
	ExecuteSigned(ctx context.Context, txBytes []byte, signatures []string) (TransactionBlock, error)
	Close()
}
