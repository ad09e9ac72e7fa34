package portal

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/ptb"
)

// DefaultWatchInterval 是余额轮询的默认间隔。
const DefaultWatchInterval = 30 * time.Second

const defaultObjectLimit = 50

// Dashboard 汇总一个地址的余额、对象与交易历史。
// 某一部分失败时其余部分照常返回，失败原因记录在 Errors 中。
type Dashboard struct {
	Network  string            `json:"network"`
	Address  string            `json:"address"`
	Balances []chain.Balance   `json:"balances"`
	Objects  chain.ObjectPage  `json:"objects"`
	History  chain.HistoryPage `json:"history"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Dashboard 并发获取余额、第一页对象与交易历史。三部分都失败时返回错误。
func (s *Service) Dashboard(ctx context.Context, network, address string) (*Dashboard, error) {
	owner, err := normalizeOwner(address)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(ctx, network)
	if err != nil {
		return nil, err
	}
	net := client.Network()
	out := &Dashboard{Network: net.Name, Address: owner, Balances: []chain.Balance{}}

	var (
		mu       sync.Mutex
		failures = make(map[string]error, 3)
	)
	g, gctx := errgroup.WithContext(ctx)
	// 单个部分失败只记录在 Errors 中；调用方取消时整组退出。
	fetch := func(section string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(gctx)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "仪表盘请求已取消",
					xerrors.WithMetadata("section", section))
			}
			mu.Lock()
			failures[section] = err
			mu.Unlock()
			return nil
		})
	}
	fetch("balances", func(ctx context.Context) error {
		balances, err := client.Balances(ctx, owner)
		if err != nil {
			return err
		}
		sortBalances(balances)
		out.Balances = balances
		return nil
	})
	fetch("objects", func(ctx context.Context) error {
		page, err := client.OwnedObjects(ctx, owner, "", s.objectLimit)
		if err != nil {
			return err
		}
		out.Objects = page
		return nil
	})
	fetch("history", func(ctx context.Context) error {
		page, err := s.history(ctx, client, owner)
		if err != nil {
			return err
		}
		out.History = page
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, section := range []string{"balances", "objects", "history"} {
		err, failed := failures[section]
		if !failed {
			continue
		}
		if out.Errors == nil {
			out.Errors = make(map[string]string)
		}
		out.Errors[section] = err.Error()
		s.logger.Warn("仪表盘数据获取失败",
			slog.String("section", section),
			slog.String("address", owner),
			slog.Any("error", err))
	}
	if len(failures) == 3 {
		return nil, failures["balances"]
	}
	return out, nil
}

// Balances 返回地址的余额列表，按币种排序。
func (s *Service) Balances(ctx context.Context, network, address string) ([]chain.Balance, error) {
	owner, err := normalizeOwner(address)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(ctx, network)
	if err != nil {
		return nil, err
	}
	balances, err := client.Balances(ctx, owner)
	if err != nil {
		return nil, err
	}
	sortBalances(balances)
	return balances, nil
}

// Objects 返回地址拥有的对象，支持游标分页。
func (s *Service) Objects(ctx context.Context, network, address, cursor string, limit int) (chain.ObjectPage, error) {
	owner, err := normalizeOwner(address)
	if err != nil {
		return chain.ObjectPage{}, err
	}
	client, err := s.registry.Client(ctx, network)
	if err != nil {
		return chain.ObjectPage{}, err
	}
	if limit <= 0 {
		limit = s.objectLimit
	}
	return client.OwnedObjects(ctx, owner, cursor, limit)
}

// Transactions 返回地址的合并交易历史。
func (s *Service) Transactions(ctx context.Context, network, address string) (chain.HistoryPage, error) {
	owner, err := normalizeOwner(address)
	if err != nil {
		return chain.HistoryPage{}, err
	}
	client, err := s.registry.Client(ctx, network)
	if err != nil {
		return chain.HistoryPage{}, err
	}
	return s.history(ctx, client, owner)
}

func (s *Service) history(ctx context.Context, client chain.Client, owner string) (chain.HistoryPage, error) {
	return chain.History(ctx, client, owner,
		chain.WithExplorer(chain.NewExplorer(client.Network().ExplorerURL, nil)),
		chain.WithHistoryLogger(s.logger))
}

// BalanceUpdate 是轮询产生的一次余额变化。Err 非空时 Balances 为空。
type BalanceUpdate struct {
	Network  string          `json:"network"`
	Address  string          `json:"address"`
	Balances []chain.Balance `json:"balances,omitempty"`
	Err      error           `json:"-"`
	At       time.Time       `json:"at"`
}

// WatchBalances 按固定间隔轮询余额，只在结果变化（或出错）时发送更新。
// 首次轮询立即进行。ctx 结束后通道关闭。
func (s *Service) WatchBalances(ctx context.Context, network, address string, interval time.Duration) (<-chan BalanceUpdate, error) {
	owner, err := normalizeOwner(address)
	if err != nil {
		return nil, err
	}
	client, err := s.registry.Client(ctx, network)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = s.watchInterval
	}

	updates := make(chan BalanceUpdate, 1)
	go func() {
		defer close(updates)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []chain.Balance
		first := true
		for {
			balances, err := client.Balances(ctx, owner)
			if ctx.Err() != nil {
				return
			}
			update := BalanceUpdate{Network: client.Network().Name, Address: owner, At: s.now()}
			send := false
			if err != nil {
				update.Err = err
				send = true
				s.logger.Warn("轮询余额失败", slog.String("address", owner), slog.Any("error", err))
			} else {
				sortBalances(balances)
				if first || !reflect.DeepEqual(balances, last) {
					update.Balances = balances
					last = balances
					first = false
					send = true
				}
			}
			if send {
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return updates, nil
}

func normalizeOwner(address string) (string, error) {
	owner, err := ptb.NormalizeAddress(address)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "地址格式非法",
			xerrors.WithMetadata("address", address))
	}
	return owner, nil
}

func sortBalances(balances []chain.Balance) {
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].CoinType == chain.NativeCoinType {
			return balances[j].CoinType != chain.NativeCoinType
		}
		if balances[j].CoinType == chain.NativeCoinType {
			return false
		}
		return balances[i].CoinType < balances[j].CoinType
	})
}
