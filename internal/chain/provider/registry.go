package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"OneChain-Portal/internal/chain"
	"OneChain-Portal/internal/chain/onechain"
	xerrors "OneChain-Portal/internal/errors"
)

// Registry 为每个配置的网络管理一个链客户端。切换网络只是一次查找，客户端在首次使用时创建。
type Registry struct {
	networks   chain.Networks
	httpClient *http.Client
	cacheSize  int

	mu      sync.Mutex
	clients map[string]chain.Client
	dial    func(ctx context.Context, network chain.Network) (chain.Client, error)
}

// Option 定义注册表的可选配置。
type Option func(*Registry)

// WithHTTPClient 指定 JSON-RPC 传输使用的 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		r.httpClient = c
	}
}

// WithSharedCacheSize 指定每个客户端的共享对象缓存大小。
func WithSharedCacheSize(n int) Option {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// WithClient 注册预先构建的客户端，主要用于测试。
func WithClient(name string, client chain.Client) Option {
	return func(r *Registry) {
		r.clients[name] = client
	}
}

// NewRegistry 校验网络目录，客户端延迟连接。
func NewRegistry(networks chain.Networks, opts ...Option) (*Registry, error) {
	if len(networks.Networks) == 0 {
		return nil, errors.New("未配置任何网络")
	}
	if _, ok := networks.Networks[networks.Default]; !ok {
		return nil, fmt.Errorf("默认网络 %s 未在配置中找到", networks.Default)
	}
	r := &Registry{
		networks: networks,
		clients:  make(map[string]chain.Client),
	}
	r.dial = func(ctx context.Context, network chain.Network) (chain.Client, error) {
		return onechain.NewClient(ctx, onechain.Config{
			Network:         network,
			HTTPClient:      r.httpClient,
			SharedCacheSize: r.cacheSize,
			Notes:           network.DisplayName,
		})
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultClient 返回默认网络的客户端。
func (r *Registry) DefaultClient(ctx context.Context) (chain.Client, error) {
	return r.Client(ctx, "")
}

// Client 返回 name 对应的客户端，首次使用时建立连接。name 为空时使用默认网络。
func (r *Registry) Client(ctx context.Context, name string) (chain.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	network, err := r.networks.Lookup(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[network.Name]; ok {
		return client, nil
	}
	client, err := r.dial(ctx, network)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("初始化网络 %s 失败", network.Name))
	}
	r.clients[network.Name] = client
	return client, nil
}

// Network 返回 name 的网络定义。
func (r *Registry) Network(name string) (chain.Network, error) {
	return r.networks.Lookup(name)
}

// Networks 按名称排序返回全部已配置网络。
func (r *Registry) Networks() []chain.Network {
	return r.networks.List()
}

// DefaultNetwork 返回默认网络名称。
func (r *Registry) DefaultNetwork() string {
	return r.networks.Default
}

// Close 释放注册表管理的全部客户端。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Connected 返回已建立客户端的网络名称。
func (r *Registry) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
