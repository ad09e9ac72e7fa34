package onechain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"

	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/observability/metrics"
	"OneChain-Portal/internal/ptb"
)

const (
	defaultSharedCacheSize = 512
	coinPageSize           = 50
	maxCoinPages           = 4
	maxGasCoins            = 256
)

// Config 描述创建 OneChain 客户端所需的信息。
type Config struct {
	Network         chain.Network
	HTTPClient      *http.Client
	SharedCacheSize int
	Notes           string
}

// Client 基于节点的 JSON-RPC 2.0 接口实现 chain.Client。
type Client struct {
	network chain.Network
	notes   string
	rpc     *gethrpc.Client
	// shared 按对象 ID 缓存 initial_shared_version，共享对象存续期间该值不变。
	shared *lru.Cache
	mu     sync.Mutex
}

// NewClient 连接配置的 RPC 地址并返回可用的客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.Network.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 OneChain RPC 地址")
	}

	var opts []gethrpc.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, gethrpc.WithHTTPClient(cfg.HTTPClient))
	}
	rpcClient, err := gethrpc.DialOptions(ctx, rpcURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("连接 OneChain 节点失败: %w", err)
	}

	size := cfg.SharedCacheSize
	if size <= 0 {
		size = defaultSharedCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("初始化对象缓存失败: %w", err)
	}

	network := cfg.Network
	if network.CoinType == "" {
		network.CoinType = chain.NativeCoinType
	}
	return &Client{
		network: network,
		notes:   cfg.Notes,
		rpc:     rpcClient,
		shared:  cache,
	}, nil
}

// Network 返回客户端绑定的网络。
func (c *Client) Network() chain.Network {
	return c.network
}

// Close 释放客户端持有的网络连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func (c *Client) conn() (*gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil, errors.New("OneChain 客户端已关闭")
	}
	return c.rpc, nil
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	conn, err := c.conn()
	if err != nil {
		return c.rpcError(method, err)
	}
	err = conn.CallContext(ctx, result, method, args...)
	metrics.ObserveRPC(method, err)
	if err != nil {
		return c.rpcError(method, err)
	}
	return nil
}

func (c *Client) batch(ctx context.Context, elems []gethrpc.BatchElem) error {
	conn, err := c.conn()
	if err != nil {
		return c.rpcError("batch", err)
	}
	err = conn.BatchCallContext(ctx, elems)
	for _, elem := range elems {
		callErr := err
		if callErr == nil {
			callErr = elem.Error
		}
		metrics.ObserveRPC(elem.Method, callErr)
	}
	if err != nil {
		return c.rpcError("batch", err)
	}
	return nil
}

func (c *Client) rpcError(method string, err error) error {
	code := chain.CodeRPCFailure
	if errors.Is(err, context.DeadlineExceeded) {
		code = xerrors.CodeTimeout
	}
	opts := []xerrors.Option{
		xerrors.WithMetadata("method", method),
		xerrors.WithMetadata("network", c.network.Name),
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		opts = append(opts,
			xerrors.WithMetadata("rpc_code", strconv.Itoa(rpcErr.ErrorCode())),
			xerrors.WithRetryable(false))
	}
	return xerrors.Wrap(code, err, fmt.Sprintf("调用 %s 失败", method), opts...)
}

// Snapshot 通过一次批量请求读取链 ID、最新检查点与参考 gas 价格。
func (c *Client) Snapshot(ctx context.Context) (chain.Snapshot, error) {
	var (
		chainID    string
		checkpoint json.RawMessage
		gasPrice   json.RawMessage
	)
	elems := []gethrpc.BatchElem{
		{Method: "sui_getChainIdentifier", Result: &chainID},
		{Method: "sui_getLatestCheckpointSequenceNumber", Result: &checkpoint},
		{Method: "suix_getReferenceGasPrice", Result: &gasPrice},
	}
	if err := c.batch(ctx, elems); err != nil {
		return chain.Snapshot{}, err
	}
	for _, elem := range elems {
		if elem.Error != nil {
			return chain.Snapshot{}, c.rpcError(elem.Method, elem.Error)
		}
	}
	price, err := decodeUint(gasPrice)
	if err != nil {
		return chain.Snapshot{}, c.rpcError("suix_getReferenceGasPrice", err)
	}
	cp, err := decodeUint(checkpoint)
	if err != nil {
		return chain.Snapshot{}, c.rpcError("sui_getLatestCheckpointSequenceNumber", err)
	}
	return chain.Snapshot{
		Network:           c.network.Name,
		ChainID:           chainID,
		Checkpoint:        strconv.FormatUint(cp, 10),
		ReferenceGasPrice: price,
		Notes:             c.notes,
	}, nil
}

// Balances 返回 owner 持有的全部代币余额。
func (c *Client) Balances(ctx context.Context, owner string) ([]chain.Balance, error) {
	owner, err := normalize(owner)
	if err != nil {
		return nil, err
	}
	var balances []chain.Balance
	if err := c.call(ctx, &balances, "suix_getAllBalances", owner); err != nil {
		return nil, err
	}
	return balances, nil
}

// OwnedObjects 返回 owner 持有对象的一页结果。
func (c *Client) OwnedObjects(ctx context.Context, owner, cursor string, limit int) (chain.ObjectPage, error) {
	owner, err := normalize(owner)
	if err != nil {
		return chain.ObjectPage{}, err
	}
	query := map[string]any{
		"filter": nil,
		"options": map[string]bool{
			"showType":    true,
			"showOwner":   true,
			"showContent": true,
			"showDisplay": true,
		},
	}
	var page chain.ObjectPage
	if err := c.call(ctx, &page, "suix_getOwnedObjects", owner, query, cursorArg(cursor), limitArg(limit)); err != nil {
		return chain.ObjectPage{}, err
	}
	return page, nil
}

func transactionQueryArgs(q chain.TransactionQuery) []any {
	query := map[string]any{
		"options": map[string]bool{
			"showInput":          true,
			"showEffects":        true,
			"showEvents":         true,
			"showObjectChanges":  true,
			"showBalanceChanges": true,
		},
	}
	if q.Filter != nil {
		query["filter"] = q.Filter
	}
	return []any{query, cursorArg(q.Cursor), limitArg(q.Limit), q.Descending}
}

// QueryTransactions 执行单次 suix_queryTransactionBlocks 查询。
func (c *Client) QueryTransactions(ctx context.Context, q chain.TransactionQuery) (chain.TransactionPage, error) {
	var page chain.TransactionPage
	if err := c.call(ctx, &page, "suix_queryTransactionBlocks", transactionQueryArgs(q)...); err != nil {
		return chain.TransactionPage{}, err
	}
	return page, nil
}

// BatchQueryTransactions 把所有查询放进一次 JSON-RPC 批量请求。
// 单个查询的失败记录在结果中，传输失败通过返回的 error 报告。
func (c *Client) BatchQueryTransactions(ctx context.Context, queries []chain.TransactionQuery) ([]chain.TransactionPageResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	pages := make([]chain.TransactionPage, len(queries))
	elems := make([]gethrpc.BatchElem, len(queries))
	for i, q := range queries {
		elems[i] = gethrpc.BatchElem{
			Method: "suix_queryTransactionBlocks",
			Args:   transactionQueryArgs(q),
			Result: &pages[i],
		}
	}
	if err := c.batch(ctx, elems); err != nil {
		return nil, err
	}
	results := make([]chain.TransactionPageResult, len(queries))
	for i := range elems {
		if elems[i].Error != nil {
			results[i].Err = c.rpcError(elems[i].Method, elems[i].Error)
			continue
		}
		results[i].Page = pages[i]
	}
	return results, nil
}

// ReferenceGasPrice 返回当前 epoch 的参考 gas 价格。
func (c *Client) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "suix_getReferenceGasPrice"); err != nil {
		return 0, err
	}
	price, err := decodeUint(raw)
	if err != nil {
		return 0, c.rpcError("suix_getReferenceGasPrice", err)
	}
	return price, nil
}

// Coins 列出 owner 持有的 coinType 代币，最多翻有限的几页。
func (c *Client) Coins(ctx context.Context, owner, coinType string) ([]chain.Coin, error) {
	owner, err := normalize(owner)
	if err != nil {
		return nil, err
	}
	if coinType == "" {
		coinType = c.network.CoinType
	}
	var (
		coins  []chain.Coin
		cursor string
	)
	for i := 0; i < maxCoinPages; i++ {
		var page chain.CoinPage
		if err := c.call(ctx, &page, "suix_getCoins", owner, coinType, cursorArg(cursor), coinPageSize); err != nil {
			return nil, err
		}
		coins = append(coins, page.Data...)
		if !page.HasNextPage || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return coins, nil
}

// Objects 读取指定对象及其所有者信息。
func (c *Client) Objects(ctx context.Context, ids []string) ([]chain.ObjectResponse, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	options := map[string]bool{"showType": true, "showOwner": true}
	var out []chain.ObjectResponse
	if err := c.call(ctx, &out, "sui_multiGetObjects", ids, options); err != nil {
		return nil, err
	}
	return out, nil
}

// DryRun 基于当前链上状态构建交易并模拟执行。
func (c *Client) DryRun(ctx context.Context, tx *ptb.Transaction) (chain.DryRunResult, error) {
	txBytes, err := c.BuildTransaction(ctx, tx)
	if err != nil {
		return chain.DryRunResult{}, err
	}
	var result chain.DryRunResult
	if err := c.call(ctx, &result, "sui_dryRunTransactionBlock", base64.StdEncoding.EncodeToString(txBytes)); err != nil {
		return chain.DryRunResult{}, err
	}
	return result, nil
}

// ExecuteSigned 提交钱包签名后的交易字节。
func (c *Client) ExecuteSigned(ctx context.Context, txBytes []byte, signatures []string) (chain.TransactionBlock, error) {
	if len(txBytes) == 0 {
		return chain.TransactionBlock{}, xerrors.New(xerrors.CodeInvalidArgument, "交易字节为空")
	}
	if len(signatures) == 0 {
		return chain.TransactionBlock{}, xerrors.New(xerrors.CodeInvalidArgument, "缺少交易签名")
	}
	options := map[string]bool{
		"showEffects":        true,
		"showBalanceChanges": true,
		"showObjectChanges":  true,
	}
	var block chain.TransactionBlock
	err := c.call(ctx, &block, "sui_executeTransactionBlock",
		base64.StdEncoding.EncodeToString(txBytes), signatures, options, "WaitForLocalExecution")
	if err != nil {
		return chain.TransactionBlock{}, xerrors.Wrap(xerrors.CodeOf(err), err, "提交交易失败", xerrors.WithRetryable(false))
	}
	return block, nil
}

// BuildTransaction 补全 gas 价格、对象引用与 gas 支付后序列化交易。
func (c *Client) BuildTransaction(ctx context.Context, tx *ptb.Transaction) ([]byte, error) {
	if tx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易为空")
	}
	sender, ok := tx.Sender()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "构建交易前必须设置发送方")
	}

	opts := ptb.BuildOptions{GasPrice: tx.GasPrice()}
	if opts.GasPrice == 0 {
		price, err := c.ReferenceGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		opts.GasPrice = price
	}

	objects, err := c.resolveObjects(ctx, tx.UnresolvedObjects())
	if err != nil {
		return nil, err
	}
	opts.Objects = objects

	payment, err := c.selectGas(ctx, sender, tx.GasBudget(), objects)
	if err != nil {
		return nil, err
	}
	opts.GasPayment = payment

	return tx.Build(opts)
}

func (c *Client) resolveObjects(ctx context.Context, ids []ptb.Address) (map[ptb.Address]ptb.ObjectArg, error) {
	out := make(map[ptb.Address]ptb.ObjectArg, len(ids))
	var lookup []string
	for _, id := range ids {
		if v, ok := c.shared.Get(id); ok {
			out[id] = ptb.ObjectArg{
				Kind:                 ptb.ObjectShared,
				Ref:                  ptb.ObjectRef{ObjectID: id},
				InitialSharedVersion: v.(uint64),
				Mutable:              true,
			}
			continue
		}
		lookup = append(lookup, id.String())
	}
	if len(lookup) == 0 {
		return out, nil
	}

	responses, err := c.Objects(ctx, lookup)
	if err != nil {
		return nil, err
	}
	for i, resp := range responses {
		if resp.Data == nil {
			id := ""
			if i < len(lookup) {
				id = lookup[i]
			}
			return nil, xerrors.New(chain.CodeObjectUnavailable, "对象不存在或已删除", xerrors.WithMetadata("object_id", id))
		}
		ref, err := resp.Data.Ref()
		if err != nil {
			return nil, xerrors.Wrap(chain.CodeObjectUnavailable, err, "对象引用非法")
		}
		arg := ptb.ObjectArg{Kind: ptb.ObjectImmOrOwned, Ref: ref}
		if owner := resp.Data.Owner; owner != nil && owner.Kind == chain.OwnerShared {
			arg = ptb.ObjectArg{
				Kind:                 ptb.ObjectShared,
				Ref:                  ref,
				InitialSharedVersion: owner.InitialSharedVersion,
				Mutable:              true,
			}
			c.shared.Add(ref.ObjectID, owner.InitialSharedVersion)
		}
		out[ref.ObjectID] = arg
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, xerrors.New(chain.CodeObjectUnavailable, "对象未能解析", xerrors.WithMetadata("object_id", id.String()))
		}
	}
	return out, nil
}

// selectGas 挑选原生代币直到余额覆盖预算，跳过已作为交易输入的代币。
func (c *Client) selectGas(ctx context.Context, sender ptb.Address, budget uint64, inputs map[ptb.Address]ptb.ObjectArg) ([]ptb.ObjectRef, error) {
	coins, err := c.Coins(ctx, sender.String(), c.network.CoinType)
	if err != nil {
		return nil, err
	}
	need := new(big.Int).SetUint64(budget)
	total := new(big.Int)
	var payment []ptb.ObjectRef
	for _, coin := range coins {
		ref, err := coin.Ref()
		if err != nil {
			continue
		}
		if _, used := inputs[ref.ObjectID]; used {
			continue
		}
		balance, ok := new(big.Int).SetString(coin.Balance, 10)
		if !ok {
			continue
		}
		payment = append(payment, ref)
		total.Add(total, balance)
		if total.Cmp(need) >= 0 || len(payment) == maxGasCoins {
			break
		}
	}
	if len(payment) == 0 || total.Cmp(need) < 0 {
		return nil, xerrors.New(chain.CodeInsufficientGas, "gas 余额不足以支付预算",
			xerrors.WithMetadata("sender", sender.String()),
			xerrors.WithMetadata("budget", strconv.FormatUint(budget, 10)),
			xerrors.WithMetadata("available", total.String()))
	}
	return payment, nil
}

func normalize(addr string) (string, error) {
	out, err := ptb.NormalizeAddress(addr)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "地址格式非法", xerrors.WithMetadata("address", addr))
	}
	return out, nil
}

func cursorArg(cursor string) any {
	if strings.TrimSpace(cursor) == "" {
		return nil
	}
	return cursor
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// decodeUint 接受 JSON 数字或十进制字符串。
func decodeUint(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("无法解析数值 %s", string(raw))
		}
		s = n.String()
	}
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}

var _ chain.Client = (*Client)(nil)
