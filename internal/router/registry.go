// Package router discovers which router contract, fee tier and wrapped
// native token to use for a given token, and caches the answer.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"MonadSwap-Engine/internal/calldata"
	"MonadSwap-Engine/internal/config"
	"MonadSwap-Engine/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

// ChainReader is the read-only chain surface discovery needs.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, block *big.Int) ([]byte, error)
}

// Info is the resolved routing decision for one token. Entries are replaced,
// never mutated.
type Info struct {
	Address      common.Address      `json:"address"`
	Kind         calldata.RouterKind `json:"kind"`
	FeeTier      uint32              `json:"fee_tier"`
	DiscoveredAt time.Time           `json:"discovered_at"`
	// Degraded is set when the router or the fee tier came from configured
	// defaults instead of a successful probe.
	Degraded bool `json:"degraded"`
}

// Candidate is a router address paired with its call convention.
type Candidate struct {
	Address common.Address
	Kind    calldata.RouterKind
}

// Settings configure discovery.
type Settings struct {
	Candidates     []Candidate
	Default        Candidate
	Factories      []common.Address
	FeeTiers       []uint32
	DefaultFeeTier uint32
	MinCodeSize    int
}

// SettingsFromConfig converts the router section of the configuration.
func SettingsFromConfig(cfg config.RouterConfig, candidates []config.RouterCandidate, factories []string) Settings {
	if len(candidates) == 0 {
		candidates = cfg.Candidates
	}
	if len(factories) == 0 {
		factories = cfg.Factories
	}
	s := Settings{
		FeeTiers:       append([]uint32(nil), cfg.FeeTiers...),
		DefaultFeeTier: cfg.DefaultFeeTier,
		MinCodeSize:    cfg.MinCodeSize,
	}
	for _, c := range candidates {
		s.Candidates = append(s.Candidates, Candidate{Address: common.HexToAddress(c.Address), Kind: calldata.RouterKind(c.Kind)})
	}
	for _, f := range factories {
		s.Factories = append(s.Factories, common.HexToAddress(f))
	}
	switch {
	case cfg.Default != "":
		kind := calldata.RouterKind(cfg.DefaultKind)
		if kind == "" {
			kind = calldata.KindUniversal
		}
		s.Default = Candidate{Address: common.HexToAddress(cfg.Default), Kind: kind}
	case len(s.Candidates) > 0:
		s.Default = s.Candidates[0]
	}
	return s
}

// CachePolicy decides whether a cached entry may still be served.
type CachePolicy interface {
	Fresh(info Info, now time.Time) bool
}

// NeverExpire keeps entries for the process lifetime. A redeployed router is
// only picked up after Invalidate.
type NeverExpire struct{}

func (NeverExpire) Fresh(Info, time.Time) bool { return true }

// MaxAge serves entries younger than the given duration.
type MaxAge time.Duration

func (m MaxAge) Fresh(info Info, now time.Time) bool {
	return now.Sub(info.DiscoveredAt) < time.Duration(m)
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCachePolicy replaces the NeverExpire policy.
func WithCachePolicy(p CachePolicy) Option {
	return func(r *Registry) {
		if p != nil {
			r.policy = p
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry caches discovery results per token.
type Registry struct {
	chain    ChainReader
	settings Settings
	policy   CachePolicy
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	routers map[common.Address]Info
	factory *common.Address
	wrapped map[common.Address]common.Address
}

// NewRegistry constructs a registry over the given chain reader.
func NewRegistry(chain ChainReader, settings Settings, opts ...Option) *Registry {
	if settings.DefaultFeeTier == 0 {
		settings.DefaultFeeTier = 3000
	}
	if settings.MinCodeSize <= 0 {
		settings.MinCodeSize = 100
	}
	r := &Registry{
		chain:    chain,
		settings: settings,
		policy:   NeverExpire{},
		logger:   logger.Named("router"),
		now:      time.Now,
		routers:  make(map[common.Address]Info),
		wrapped:  make(map[common.Address]common.Address),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cached routing decision for token, probing on a miss.
// Concurrent misses for the same token share one probe. Only context
// cancellation produces an error; exhausted candidates yield a Degraded entry.
func (r *Registry) Resolve(ctx context.Context, token common.Address) (Info, error) {
	if info, ok := r.cached(token); ok {
		return info, nil
	}
	v, err, _ := r.group.Do("router:"+strings.ToLower(token.Hex()), func() (any, error) {
		if info, ok := r.cached(token); ok {
			return info, nil
		}
		info, err := r.discover(ctx, token)
		if err != nil {
			return Info{}, err
		}
		r.mu.Lock()
		r.routers[token] = info
		r.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

func (r *Registry) cached(token common.Address) (Info, bool) {
	r.mu.RLock()
	info, ok := r.routers[token]
	r.mu.RUnlock()
	if !ok || !r.policy.Fresh(info, r.now()) {
		return Info{}, false
	}
	return info, true
}

// Invalidate drops the cached entry for token.
func (r *Registry) Invalidate(token common.Address) {
	r.mu.Lock()
	delete(r.routers, token)
	r.mu.Unlock()
}

func (r *Registry) discover(ctx context.Context, token common.Address) (Info, error) {
	router, probed := r.probeRouters(ctx)
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	info := Info{Address: router.Address, Kind: router.Kind, DiscoveredAt: r.now(), Degraded: !probed}
	if !probed {
		r.logger.Warn("no router candidate responded, using configured default",
			slog.String("token", token.Hex()),
			slog.String("router", router.Address.Hex()),
		)
	}

	fee, found := r.probeFeeTier(ctx, token, router.Address)
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	info.FeeTier = fee
	if !found {
		info.Degraded = true
	}

	r.logger.Info("router resolved",
		slog.String("token", token.Hex()),
		slog.String("router", info.Address.Hex()),
		slog.String("kind", string(info.Kind)),
		slog.Uint64("fee_tier", uint64(info.FeeTier)),
		slog.Bool("degraded", info.Degraded),
	)
	return info, nil
}

func (r *Registry) hasCode(ctx context.Context, addr common.Address) bool {
	code, err := r.chain.CodeAt(ctx, addr)
	if err != nil {
		r.logger.Debug("code probe failed", slog.String("address", addr.Hex()), slog.Any("error", err))
		return false
	}
	if len(code) <= r.settings.MinCodeSize {
		r.logger.Debug("code probe below threshold", slog.String("address", addr.Hex()), slog.Int("size", len(code)))
		return false
	}
	return true
}

func (r *Registry) probeRouters(ctx context.Context) (Candidate, bool) {
	for _, candidate := range r.settings.Candidates {
		if ctx.Err() != nil {
			break
		}
		if r.hasCode(ctx, candidate.Address) {
			return candidate, true
		}
	}
	return r.settings.Default, false
}

// ResolveFeeTier returns the fee tier of the cached entry for token,
// resolving it first when needed.
func (r *Registry) ResolveFeeTier(ctx context.Context, token common.Address) (uint32, error) {
	info, err := r.Resolve(ctx, token)
	if err != nil {
		return 0, err
	}
	return info.FeeTier, nil
}

// probeFeeTier walks the configured tiers and returns the first with a
// non-zero pool between the wrapped native token and token.
func (r *Registry) probeFeeTier(ctx context.Context, token, router common.Address) (uint32, bool) {
	factory := r.Factory(ctx)
	weth := r.WrappedNative(ctx, router)
	for _, fee := range r.settings.FeeTiers {
		if ctx.Err() != nil {
			break
		}
		data, err := calldata.PackGetPool(weth, token, fee)
		if err != nil {
			continue
		}
		out, err := r.chain.CallContract(ctx, gethcore.CallMsg{To: &factory, Data: data}, nil)
		if err != nil {
			r.logger.Debug("getPool failed", slog.Uint64("fee", uint64(fee)), slog.Any("error", err))
			continue
		}
		pool, err := calldata.UnpackPool(out)
		if err != nil || pool == (common.Address{}) {
			continue
		}
		return fee, true
	}
	r.logger.Warn("no pool found for any fee tier, using default",
		slog.String("token", token.Hex()),
		slog.Uint64("fee_tier", uint64(r.settings.DefaultFeeTier)),
	)
	return r.settings.DefaultFeeTier, false
}

// Factory returns the first factory candidate with deployed code, falling back
// to the first configured factory. The answer is cached.
func (r *Registry) Factory(ctx context.Context) common.Address {
	r.mu.RLock()
	cached := r.factory
	r.mu.RUnlock()
	if cached != nil {
		return *cached
	}

	v, _, _ := r.group.Do("factory", func() (any, error) {
		var chosen common.Address
		found := false
		for _, f := range r.settings.Factories {
			if r.hasCode(ctx, f) {
				chosen, found = f, true
				break
			}
		}
		if !found {
			if len(r.settings.Factories) > 0 {
				chosen = r.settings.Factories[0]
			}
			r.logger.Warn("no factory candidate responded, using configured default", slog.String("factory", chosen.Hex()))
		}
		if ctx.Err() == nil {
			r.mu.Lock()
			r.factory = &chosen
			r.mu.Unlock()
		}
		return chosen, nil
	})
	return v.(common.Address)
}

// WrappedNative reads WETH9() from router, falling back to the zero address.
func (r *Registry) WrappedNative(ctx context.Context, router common.Address) common.Address {
	r.mu.RLock()
	weth, ok := r.wrapped[router]
	r.mu.RUnlock()
	if ok {
		return weth
	}

	v, _, _ := r.group.Do("weth:"+strings.ToLower(router.Hex()), func() (any, error) {
		data, err := calldata.PackRouterView("WETH9")
		if err != nil {
			return common.Address{}, nil
		}
		out, err := r.chain.CallContract(ctx, gethcore.CallMsg{To: &router, Data: data}, nil)
		if err != nil {
			r.logger.Warn("WETH9 read failed, using zero address", slog.String("router", router.Hex()), slog.Any("error", err))
			return common.Address{}, nil
		}
		addr, err := calldata.UnpackRouterAddress("WETH9", out)
		if err != nil {
			return common.Address{}, nil
		}
		r.mu.Lock()
		r.wrapped[router] = addr
		r.mu.Unlock()
		return addr, nil
	})
	return v.(common.Address)
}

// Snapshot returns a copy of the router cache, for diagnostics.
func (r *Registry) Snapshot() map[string]Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Info, len(r.routers))
	for token, info := range r.routers {
		out[token.Hex()] = info
	}
	return out
}

func (i Info) String() string {
	return fmt.Sprintf("%s(%s fee=%d degraded=%t)", i.Address.Hex(), i.Kind, i.FeeTier, i.Degraded)
}
