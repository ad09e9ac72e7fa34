package chain

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

const (
	historyPageSize = 20
	historyKeep     = 30
	fallbackLimit   = 50
	fallbackKeep    = 20
)

// 合并后每笔交易记录的查询来源。
const (
	SourceSent        = "sent"
	SourceReceived    = "received"
	SourceInteraction = "interaction"
	SourceChange      = "change"
	SourceFallback    = "fallback"
	SourceExplorer    = "explorer"
)

var historyFilters = []struct {
	filter string
	source string
}{
	{FilterFromAddress, SourceSent},
	{FilterToAddress, SourceReceived},
	{FilterInputObject, SourceInteraction},
	{FilterChangedObject, SourceChange},
}

// HistoryPage 是某个地址合并后的交易历史。
type HistoryPage struct {
	Data        []TransactionBlock `json:"data"`
	HasNextPage bool               `json:"hasNextPage"`
	Origin      string             `json:"origin"`
}

// SourcedPage 是带有来源过滤条件的查询结果。
type SourcedPage struct {
	Source string
	Page   TransactionPage
}

// ExplorerFetcher 是可选的索引服务，优先于 RPC 查询使用。
type ExplorerFetcher interface {
	Transactions(ctx context.Context, address string, limit int) ([]TransactionBlock, error)
}

type historyOptions struct {
	explorer ExplorerFetcher
	logger   *slog.Logger
}

// HistoryOption 定义 History 的可选配置。
type HistoryOption func(*historyOptions)

// WithExplorer 让 History 先查询浏览器索引再查询节点。
func WithExplorer(e ExplorerFetcher) HistoryOption {
	return func(o *historyOptions) {
		if ex, ok := e.(*Explorer); ok && ex == nil {
			return
		}
		o.explorer = e
	}
}

// WithHistoryLogger 指定降级路径使用的日志输出。
func WithHistoryLogger(l *slog.Logger) HistoryOption {
	return func(o *historyOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// History 收集与 address 相关的交易。四个过滤查询通过一次 JSON-RPC 批量请求发出，
// 全部失败时改为扫描最近的无过滤查询结果。
func History(ctx context.Context, client Client, address string, opts ...HistoryOption) (HistoryPage, error) {
	options := historyOptions{logger: logger.Named("chain-history")}
	for _, opt := range opts {
		opt(&options)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return HistoryPage{}, xerrors.New(xerrors.CodeInvalidArgument, "地址不能为空")
	}

	if options.explorer != nil {
		txs, err := options.explorer.Transactions(ctx, address, historyPageSize)
		if err == nil {
			for i := range txs {
				txs[i].QuerySource = SourceExplorer
				if txs[i].TransactionType == "" {
					txs[i].TransactionType = Classify(txs[i], address, SourceExplorer)
				}
			}
			return HistoryPage{Data: txs, Origin: SourceExplorer}, nil
		}
		options.logger.Warn("浏览器接口不可用，回退到节点查询", slog.String("address", address), slog.Any("error", err))
	}

	queries := make([]TransactionQuery, len(historyFilters))
	for i, f := range historyFilters {
		queries[i] = TransactionQuery{
			Filter:     &TransactionFilter{Kind: f.filter, Value: address},
			Limit:      historyPageSize,
			Descending: true,
		}
	}

	results, err := client.BatchQueryTransactions(ctx, queries)
	if err == nil {
		pages := make([]SourcedPage, 0, len(results))
		for i, res := range results {
			if i >= len(historyFilters) {
				break
			}
			if res.Err != nil {
				options.logger.Warn("交易过滤查询失败",
					slog.String("filter", historyFilters[i].filter),
					slog.Any("error", res.Err))
				continue
			}
			pages = append(pages, SourcedPage{Source: historyFilters[i].source, Page: res.Page})
		}
		if len(pages) > 0 {
			return MergeHistory(address, pages), nil
		}
	} else {
		options.logger.Warn("批量查询交易失败", slog.String("address", address), slog.Any("error", err))
	}

	page, ferr := client.QueryTransactions(ctx, TransactionQuery{Limit: fallbackLimit, Descending: true})
	if ferr != nil {
		return HistoryPage{}, xerrors.Wrap(CodeRPCFailure, ferr, "查询交易历史失败",
			xerrors.WithMetadata("address", address))
	}
	return FallbackHistory(address, page), nil
}

// MergeHistory 按摘要去重（先出现的来源优先），按时间倒序排列并保留最近 30 条。
func MergeHistory(address string, pages []SourcedPage) HistoryPage {
	seen := make(map[string]struct{})
	var merged []TransactionBlock
	for _, p := range pages {
		for _, tx := range p.Page.Data {
			if tx.Digest == "" {
				continue
			}
			if _, dup := seen[tx.Digest]; dup {
				continue
			}
			seen[tx.Digest] = struct{}{}
			tx.QuerySource = p.Source
			tx.TransactionType = Classify(tx, address, p.Source)
			merged = append(merged, tx)
		}
	}
	sortByTimestamp(merged)

	out := HistoryPage{Origin: "rpc", HasNextPage: len(merged) > historyKeep}
	if len(merged) > historyKeep {
		merged = merged[:historyKeep]
	}
	out.Data = merged
	if out.Data == nil {
		out.Data = []TransactionBlock{}
	}
	return out
}

// FallbackHistory 保留最近交易中与 address 相关的部分。
func FallbackHistory(address string, page TransactionPage) HistoryPage {
	out := HistoryPage{Data: []TransactionBlock{}, Origin: SourceFallback}
	for _, tx := range page.Data {
		if !Involves(tx, address) {
			continue
		}
		tx.QuerySource = SourceFallback
		tx.TransactionType = Classify(tx, address, SourceFallback)
		out.Data = append(out.Data, tx)
		if len(out.Data) == fallbackKeep {
			break
		}
	}
	return out
}

// Involves 判断 address 是否为交易发送方、发生了余额变化或持有交易创建或修改的对象。
func Involves(tx TransactionBlock, address string) bool {
	if SameAddress(tx.Sender(), address) {
		return true
	}
	for _, change := range tx.BalanceChanges {
		if change.Owner.IsAddress(address) {
			return true
		}
	}
	return touchesOwnedObject(tx, address)
}

// Classify 从 address 的视角给交易分类。
func Classify(tx TransactionBlock, address, source string) string {
	if SameAddress(tx.Sender(), address) {
		if hasBalanceChange(tx, address, -1) {
			return "Transfer Sent"
		}
		return "Transaction Originated"
	}
	if hasBalanceChange(tx, address, 1) {
		return "Transfer Received"
	}
	if touchesOwnedObject(tx, address) {
		return "Object Interaction"
	}
	switch source {
	case SourceSent:
		return "Sent Transaction"
	case SourceReceived:
		return "Received Transaction"
	case SourceInteraction:
		return "Contract Interaction"
	case SourceChange:
		return "State Change"
	default:
		return "Related Transaction"
	}
}

func hasBalanceChange(tx TransactionBlock, address string, sign int) bool {
	for _, change := range tx.BalanceChanges {
		if !change.Owner.IsAddress(address) {
			continue
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(change.Amount), 10)
		if ok && amount.Sign() == sign {
			return true
		}
	}
	return false
}

func touchesOwnedObject(tx TransactionBlock, address string) bool {
	if tx.Effects == nil {
		return false
	}
	for _, refs := range [][]OwnedObjectRef{tx.Effects.Mutated, tx.Effects.Created} {
		for _, ref := range refs {
			if ref.Owner.IsAddress(address) {
				return true
			}
		}
	}
	return false
}

func sortByTimestamp(txs []TransactionBlock) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp() > txs[j].Timestamp()
	})
}
