// Package provider 根据 chains.yaml 或单一 RPC 配置拨号链客户端，并记录每条链上的 AMM 部署。
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"MonadSwap-Engine/internal/config"
	"MonadSwap-Engine/internal/web3"
	"MonadSwap-Engine/internal/web3/ethereum"
)

// Deployment 是引擎在一条链上可用的路由、工厂与报价合约。
type Deployment struct {
	ChainID   int64
	Routers   []config.RouterCandidate
	Factories []string
	Quoter    string
}

// Dialer 根据连接参数创建链客户端，测试中可替换。
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.ChainClient, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.ChainClient, error) {
	return ethereum.NewClient(ctx, cfg)
}

type chainEntry struct {
	client     web3.ChainClient
	deployment Deployment
}

// Registry 持有已拨号的链，按名称索引。
type Registry struct {
	defaultChain string
	chains       map[string]chainEntry
}

// NewRegistry 读取链配置并为每条链建立客户端。
func NewRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	return newRegistry(ctx, cfg, dialEthereum)
}

func newRegistry(ctx context.Context, cfg *config.Config, dial Dialer) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("配置为空")
	}
	defs, err := web3.LoadChainDefinitions(cfg.Chain.ChainsFile)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.Chain.RPCURL) != "" {
		name := cfg.Chain.Name
		if name == "" {
			name = "default"
		}
		defs.Chains[name] = web3.ChainDefinition{RPCURL: cfg.Chain.RPCURL}
		defs.Default = name
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	r := &Registry{chains: make(map[string]chainEntry, len(defs.Chains))}
	for _, name := range sortedKeys(defs.Chains) {
		chain := defs.Chains[name]
		if kind := strings.ToLower(strings.TrimSpace(chain.Type)); kind != "" && kind != "evm" {
			r.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := dial(ctx, ethereum.Config{
			Name:        name,
			RPCURL:      chain.RPCURL,
			Notes:       chain.Description,
			ReceiptPoll: cfg.Timeouts.ReceiptPoll,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.chains[name] = chainEntry{client: client, deployment: mergeDeployment(chain, cfg)}
	}

	r.defaultChain = r.pickDefault(strings.TrimSpace(defs.Default), cfg.Chain.Name)
	if _, ok := r.chains[r.defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", r.defaultChain)
	}
	return r, nil
}

// pickDefault 依次采用 chains.yaml 的 default、chain.name，最后取名称排序后的第一条链。
func (r *Registry) pickDefault(declared, configured string) string {
	if declared != "" {
		return declared
	}
	if _, ok := r.chains[configured]; ok {
		return configured
	}
	return sortedKeys(r.chains)[0]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// mergeDeployment 用全局 router 配置补齐链定义中缺失的合约。
func mergeDeployment(chain web3.ChainDefinition, cfg *config.Config) Deployment {
	dep := Deployment{
		ChainID:   orDefault(chain.ChainID, cfg.Chain.ChainID),
		Factories: slices.Clone(chain.Factories),
		Quoter:    orDefault(chain.Quoter, cfg.Router.Quoter),
	}
	for _, r := range chain.Routers {
		dep.Routers = append(dep.Routers, config.RouterCandidate{Address: r.Address, Kind: orDefault(r.Kind, "universal")})
	}
	if len(dep.Routers) == 0 {
		dep.Routers = slices.Clone(cfg.Router.Candidates)
	}
	if len(dep.Factories) == 0 {
		dep.Factories = slices.Clone(cfg.Router.Factories)
	}
	return dep
}

// orDefault 在 v 为零值时返回 fallback。
func orDefault[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// DefaultName 返回默认链名称。
func (r *Registry) DefaultName() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient 返回默认链的客户端。
func (r *Registry) DefaultClient() (web3.ChainClient, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	if client, ok := r.Client(r.defaultChain); ok {
		return client, nil
	}
	return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
}

// DefaultDeployment 返回默认链上的合约部署。
func (r *Registry) DefaultDeployment() Deployment {
	if r == nil {
		return Deployment{}
	}
	return r.chains[r.defaultChain].deployment
}

// Client 按名称查找链客户端。
func (r *Registry) Client(name string) (web3.ChainClient, bool) {
	if r == nil {
		return nil, false
	}
	entry, ok := r.chains[name]
	return entry.client, ok
}

// Chains 返回按名称排序的链列表。
func (r *Registry) Chains() []string {
	if r == nil || len(r.chains) == 0 {
		return nil
	}
	return sortedKeys(r.chains)
}

// Close 关闭所有链客户端并清空注册表。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, entry := range r.chains {
		if entry.client != nil {
			entry.client.Close()
		}
		delete(r.chains, name)
	}
}
