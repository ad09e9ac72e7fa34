package chain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "OneChain-Portal/internal/errors"
)

// NativeCoinType 是 OneChain 上支付 gas 的代币类型。
const NativeCoinType = "0x2::oct::OCT"

// DefaultNetwork 在配置未指定网络时使用。
const DefaultNetwork = "testnet"

// Network 描述门户可以连接的一个 OneChain 部署。
type Network struct {
	Name        string `yaml:"-" json:"name"`
	DisplayName string `yaml:"display_name" json:"displayName"`
	RPCURL      string `yaml:"rpc_url" json:"rpcUrl"`
	FaucetURL   string `yaml:"faucet_url" json:"faucetUrl,omitempty"`
	ExplorerURL string `yaml:"explorer_url" json:"explorerUrl,omitempty"`
	ChainID     string `yaml:"chain_id" json:"chainId"`
	CoinType    string `yaml:"coin_type" json:"coinType"`
}

// Networks 对应 configs/networks.yaml 的结构。
type Networks struct {
	Default  string             `yaml:"default"`
	Networks map[string]Network `yaml:"networks"`
}

// DefaultNetworks 返回内置的 testnet 与 localnet 定义。
func DefaultNetworks() Networks {
	return Networks{
		Default: DefaultNetwork,
		Networks: map[string]Network{
			"testnet": {
				Name:        "testnet",
				DisplayName: "OneChain Testnet",
				RPCURL:      "https://rpc-testnet.onelabs.cc:443",
				FaucetURL:   "https://faucet-testnet.onelabs.cc/v1/gas",
				ChainID:     "onechain-testnet",
				CoinType:    NativeCoinType,
			},
			"localnet": {
				Name:        "localnet",
				DisplayName: "OneChain Localnet",
				RPCURL:      "http://127.0.0.1:9000",
				FaucetURL:   "http://127.0.0.1:9123/gas",
				ChainID:     "onechain-localnet",
				CoinType:    NativeCoinType,
			},
		},
	}
}

// LoadNetworks 解析 YAML 网络目录，path 为空时返回内置默认值。
func LoadNetworks(path string) (Networks, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultNetworks(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Networks{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs Networks
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Networks{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if len(defs.Networks) == 0 {
		return Networks{}, fmt.Errorf("网络配置 %s 未定义任何网络", path)
	}
	for name, n := range defs.Networks {
		n.Name = name
		if n.CoinType == "" {
			n.CoinType = NativeCoinType
		}
		if n.DisplayName == "" {
			n.DisplayName = name
		}
		if strings.TrimSpace(n.RPCURL) == "" {
			return Networks{}, fmt.Errorf("网络 %s 缺少 rpc_url", name)
		}
		defs.Networks[name] = n
	}
	if defs.Default == "" {
		if _, ok := defs.Networks[DefaultNetwork]; ok {
			defs.Default = DefaultNetwork
		} else {
			defs.Default = defs.Names()[0]
		}
	}
	if _, ok := defs.Networks[defs.Default]; !ok {
		return Networks{}, fmt.Errorf("默认网络 %s 未在配置中找到", defs.Default)
	}
	return defs, nil
}

// Lookup 返回指定网络，name 为空时返回默认网络。
func (n Networks) Lookup(name string) (Network, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = n.Default
	}
	network, ok := n.Networks[name]
	if !ok {
		return Network{}, xerrors.New(CodeUnknownNetwork, "网络不存在", xerrors.WithMetadata("network", name))
	}
	return network, nil
}

// Names 返回排序后的网络名称。
func (n Networks) Names() []string {
	names := make([]string, 0, len(n.Networks))
	for name := range n.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 按名称排序返回网络。
func (n Networks) List() []Network {
	out := make([]Network, 0, len(n.Networks))
	for _, name := range n.Names() {
		out = append(out, n.Networks[name])
	}
	return out
}
