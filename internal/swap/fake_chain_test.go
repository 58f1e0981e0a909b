package swap

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"MonadSwap-Engine/internal/calldata"
	"MonadSwap-Engine/internal/router"
	"MonadSwap-Engine/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testRouter  = common.HexToAddress("0x3ae6d8a282d67893e17aa70ebffb33ee5aa65893")
	testWETH    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testQuoter  = common.HexToAddress("0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6")
	testChainID = big.NewInt(10143)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type revertError struct{ data string }

func (e revertError) Error() string  { return "execution reverted" }
func (e revertError) ErrorData() any { return e.data }

func newRevertError(reason string) revertError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	payload := append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
	return revertError{data: hexutil.Encode(payload)}
}

// fakeChain answers ERC20 and quoter reads by selector and records writes.
type fakeChain struct {
	mu sync.Mutex

	native      *big.Int
	tokenBal    *big.Int
	allowance   *big.Int
	decimals    uint8
	quote       *big.Int
	quoteErr    error
	estimate    uint64
	estimateErr error
	sendErr     error
	waitErr     error
	statuses    []uint64
	replayErr   error

	sent      []*types.Transaction
	estimates int
	capped    []uint64
	replays   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		native:    ether(10),
		tokenBal:  ether(10),
		allowance: new(big.Int),
		decimals:  18,
		estimate:  180000,
		quoteErr:  errors.New("no quoter"),
	}
}

func (f *fakeChain) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChain) IsConnected(context.Context) bool { return true }

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (f *fakeChain) CodeAt(context.Context, common.Address) ([]byte, error) {
	return bytes.Repeat([]byte{0x60}, 200), nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.native), nil
}

func (f *fakeChain) CallContract(_ context.Context, msg gethcore.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if block != nil {
		f.replays++
		return nil, f.replayErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("bad call")
	}
	switch *msg.To {
	case testQuoter:
		if f.quoteErr != nil {
			return nil, f.quoteErr
		}
		return calldata.QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(f.quote)
	case testToken:
		method, err := calldata.ERC20ABI.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		switch method.Name {
		case "name":
			return method.Outputs.Pack("Test Token")
		case "symbol":
			return method.Outputs.Pack("TT")
		case "decimals":
			return method.Outputs.Pack(f.decimals)
		case "balanceOf":
			return method.Outputs.Pack(f.tokenBal)
		case "allowance":
			return method.Outputs.Pack(f.allowance)
		}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(50e9), nil }

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	f.capped = append(f.capped, msg.Gas)
	return f.estimate, f.estimateErr
}

func (f *fakeChain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	f.sent = append(f.sent, tx)
	return tx.Hash(), nil
}

func (f *fakeChain) WaitForReceipt(_ context.Context, hash common.Hash, _ time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	status := types.ReceiptStatusSuccessful
	if idx := len(f.sent) - 1; idx < len(f.statuses) {
		status = f.statuses[idx]
	}
	return &types.Receipt{
		Status:            status,
		TxHash:            hash,
		BlockNumber:       big.NewInt(42),
		GasUsed:           150000,
		EffectiveGasPrice: big.NewInt(50e9),
		Logs: []*types.Log{{
			Address: testToken,
			Topics:  []common.Hash{common.HexToHash("0xddf252ad")},
			Data:    []byte{0x01, 0x02},
		}},
	}, nil
}

func (f *fakeChain) LatestBlockTimestamp(context.Context) (uint64, error) { return 1_700_000_000, nil }

func (f *fakeChain) Close() {}

var _ web3.ChainClient = (*fakeChain)(nil)

type fakeResolver struct {
	info router.Info
	weth common.Address
}

func newFakeResolver(kind calldata.RouterKind) *fakeResolver {
	return &fakeResolver{
		info: router.Info{Address: testRouter, Kind: kind, FeeTier: 3000, DiscoveredAt: time.Now()},
		weth: testWETH,
	}
}

func (r *fakeResolver) Resolve(context.Context, common.Address) (router.Info, error) {
	return r.info, nil
}

func (r *fakeResolver) WrappedNative(context.Context, common.Address) common.Address {
	return r.weth
}
