package web3

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chains.yaml：每条链的 RPC 与 AMM 合约部署。
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述一条链上的 RPC 端点与已部署的路由、工厂、报价合约。
type ChainDefinition struct {
	Type        string             `yaml:"type"`
	ChainID     int64              `yaml:"chain_id"`
	RPCURL      string             `yaml:"rpc_url"`
	Description string             `yaml:"description"`
	Routers     []RouterDeployment `yaml:"routers"`
	Factories   []string           `yaml:"factories"`
	Quoter      string             `yaml:"quoter"`
}

// RouterDeployment 是一个路由合约及其调用约定（universal、swap_router02、swap_router）。
type RouterDeployment struct {
	Address string `yaml:"address"`
	Kind    string `yaml:"kind"`
}

// LoadChainDefinitions 读取并校验链配置。path 为空时返回空集合。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: map[string]ChainDefinition{}}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	if err := defs.Validate(); err != nil {
		return ChainDefinitions{}, err
	}
	return defs, nil
}

// Validate 检查每条链的 rpc_url 与合约地址格式，以及 default 是否指向已定义的链。
func (d ChainDefinitions) Validate() error {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		errs = append(errs, d.Chains[name].validate(name)...)
	}
	if d.Default != "" && len(d.Chains) > 0 {
		if _, ok := d.Chains[d.Default]; !ok {
			errs = append(errs, fmt.Errorf("default 链 %s 未定义", d.Default))
		}
	}
	return errors.Join(errs...)
}

func (c ChainDefinition) validate(name string) []error {
	var errs []error
	if strings.TrimSpace(c.RPCURL) == "" {
		errs = append(errs, fmt.Errorf("链 %s 缺少 rpc_url", name))
	}
	badAddr := func(field, addr string) {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("链 %s 的 %s 不是合法地址: %q", name, field, addr))
		}
	}
	for i, r := range c.Routers {
		badAddr(fmt.Sprintf("routers[%d]", i), r.Address)
	}
	for i, f := range c.Factories {
		badAddr(fmt.Sprintf("factories[%d]", i), f)
	}
	if c.Quoter != "" {
		badAddr("quoter", c.Quoter)
	}
	return errs
}
