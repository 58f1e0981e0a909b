package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MonadSwap-Engine/internal/calldata"
	"MonadSwap-Engine/internal/config"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	universal = common.HexToAddress("0x3ae6d8a282d67893e17aa70ebffb33ee5aa65893")
	router02  = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")
	factory   = common.HexToAddress("0x961235a9020b05c44df1026d956d1f4d78014276")
	weth      = common.HexToAddress("0x760AfE86e5de5fa0Ee542fc7B7B713e1c5425701")
	tokenA    = common.HexToAddress("0xf817257fed379853cDe0fa4F97AB987181B1E5Ea")
)

type fakeChain struct {
	mu        sync.Mutex
	code      map[common.Address][]byte
	pools     map[uint32]common.Address
	weth      *common.Address
	codeCalls atomic.Int64
	feeCalls  atomic.Int64
	delay     time.Duration
}

func newFakeChain() *fakeChain {
	return &fakeChain{code: map[common.Address][]byte{}, pools: map[uint32]common.Address{}}
}

func (f *fakeChain) CodeAt(_ context.Context, account common.Address) ([]byte, error) {
	f.codeCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.code[account]
	if !ok {
		return nil, errors.New("rpc: no code")
	}
	return code, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	wethSel := calldata.SwapRouterABI.Methods["WETH9"].ID
	poolSel := calldata.FactoryABI.Methods["getPool"].ID
	switch {
	case bytes.Equal(msg.Data[:4], wethSel):
		if f.weth == nil {
			return nil, errors.New("execution reverted")
		}
		return calldata.SwapRouterABI.Methods["WETH9"].Outputs.Pack(*f.weth)
	case bytes.Equal(msg.Data[:4], poolSel):
		f.feeCalls.Add(1)
		args, err := calldata.FactoryABI.Methods["getPool"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		fee := uint32(args[2].(*big.Int).Uint64())
		return calldata.FactoryABI.Methods["getPool"].Outputs.Pack(f.pools[fee])
	}
	return nil, errors.New("unexpected call")
}

func deployed() []byte { return bytes.Repeat([]byte{0x60}, 200) }

func testSettings() Settings {
	return Settings{
		Candidates: []Candidate{
			{Address: universal, Kind: calldata.KindUniversal},
			{Address: router02, Kind: calldata.KindSwapRouter02},
		},
		Default:        Candidate{Address: universal, Kind: calldata.KindUniversal},
		Factories:      []common.Address{factory},
		FeeTiers:       []uint32{500, 3000, 10000},
		DefaultFeeTier: 3000,
		MinCodeSize:    100,
	}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveIsCachedAndIdempotent(t *testing.T) {
	chain := newFakeChain()
	chain.code[universal] = deployed()
	chain.code[factory] = deployed()
	chain.weth = &weth
	chain.pools[500] = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	reg := NewRegistry(chain, testSettings(), quiet())
	ctx := context.Background()

	first, err := reg.Resolve(ctx, tokenA)
	require.NoError(t, err)
	probes := chain.codeCalls.Load()

	second, err := reg.Resolve(ctx, tokenA)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, probes, chain.codeCalls.Load(), "second resolve must not probe")
	assert.Equal(t, universal, first.Address)
	assert.Equal(t, calldata.KindUniversal, first.Kind)
	assert.EqualValues(t, 500, first.FeeTier)
	assert.False(t, first.Degraded)
}

func TestResolveSkipsSmallCodeAndFallsBack(t *testing.T) {
	chain := newFakeChain()
	chain.code[universal] = bytes.Repeat([]byte{0x60}, 100)
	chain.code[router02] = deployed()
	chain.code[factory] = deployed()
	chain.weth = &weth
	chain.pools[10000] = common.HexToAddress("0x00000000000000000000000000000000000000aa")

	reg := NewRegistry(chain, testSettings(), quiet())
	info, err := reg.Resolve(context.Background(), tokenA)
	require.NoError(t, err)
	assert.Equal(t, router02, info.Address)
	assert.Equal(t, calldata.KindSwapRouter02, info.Kind)
	assert.EqualValues(t, 10000, info.FeeTier)
	assert.False(t, info.Degraded)
}

func TestResolveDegradedWhenNothingResponds(t *testing.T) {
	chain := newFakeChain()
	reg := NewRegistry(chain, testSettings(), quiet())

	info, err := reg.Resolve(context.Background(), tokenA)
	require.NoError(t, err)
	assert.Equal(t, universal, info.Address)
	assert.EqualValues(t, 3000, info.FeeTier)
	assert.True(t, info.Degraded)

	calls := chain.codeCalls.Load()
	again, err := reg.Resolve(context.Background(), tokenA)
	require.NoError(t, err)
	assert.Equal(t, info, again)
	assert.Equal(t, calls, chain.codeCalls.Load(), "degraded fallback is cached too")

	assert.Equal(t, common.Address{}, reg.WrappedNative(context.Background(), universal))
}

func TestConcurrentResolveProbesOnce(t *testing.T) {
	chain := newFakeChain()
	chain.code[universal] = deployed()
	chain.code[factory] = deployed()
	chain.weth = &weth
	chain.delay = 20 * time.Millisecond

	reg := NewRegistry(chain, testSettings(), quiet())
	var wg sync.WaitGroup
	results := make([]Info, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := reg.Resolve(context.Background(), tokenA)
			assert.NoError(t, err)
			results[i] = info
		}(i)
	}
	wg.Wait()

	for _, info := range results {
		assert.Equal(t, results[0], info)
	}
	// one router probe plus one factory probe
	assert.EqualValues(t, 2, chain.codeCalls.Load())
	assert.EqualValues(t, 3, chain.feeCalls.Load())
}

func TestInvalidateAndMaxAge(t *testing.T) {
	chain := newFakeChain()
	chain.code[universal] = deployed()
	chain.code[factory] = deployed()

	now := time.Unix(1_700_000_000, 0)
	reg := NewRegistry(chain, testSettings(), quiet(),
		WithCachePolicy(MaxAge(time.Minute)),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, tokenA)
	require.NoError(t, err)
	base := chain.codeCalls.Load()

	now = now.Add(30 * time.Second)
	_, err = reg.Resolve(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, base, chain.codeCalls.Load())

	now = now.Add(time.Minute)
	_, err = reg.Resolve(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, base+1, chain.codeCalls.Load(), "expired entry re-probes routers only")

	reg.Invalidate(tokenA)
	assert.Empty(t, reg.Snapshot())
	fee, err := reg.ResolveFeeTier(ctx, tokenA)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, fee)
	assert.Equal(t, base+2, chain.codeCalls.Load())
}

func TestResolveHonoursCancelledContext(t *testing.T) {
	chain := newFakeChain()
	reg := NewRegistry(chain, testSettings(), quiet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Resolve(ctx, tokenA)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reg.Snapshot())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	s := SettingsFromConfig(cfg.Router, nil, nil)
	require.Len(t, s.Candidates, 3)
	assert.Equal(t, universal, s.Candidates[0].Address)
	assert.Equal(t, calldata.KindSwapRouter, s.Candidates[2].Kind)
	assert.Equal(t, universal, s.Default.Address)
	require.Len(t, s.Factories, 2)
	assert.Equal(t, factory, s.Factories[0])
	assert.EqualValues(t, 3000, s.DefaultFeeTier)
}
