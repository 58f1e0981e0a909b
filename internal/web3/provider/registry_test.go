package provider

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"MonadSwap-Engine/internal/config"
	"MonadSwap-Engine/internal/web3"
	"MonadSwap-Engine/internal/web3/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) IsConnected(context.Context) bool                       { return true }
func (s *stubClient) ChainID(context.Context) (*big.Int, error)              { return big.NewInt(1), nil }
func (s *stubClient) CodeAt(context.Context, common.Address) ([]byte, error) { return nil, nil }
func (s *stubClient) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (s *stubClient) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (s *stubClient) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (s *stubClient) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) { return 0, nil }
func (s *stubClient) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return common.Hash{}, nil
}
func (s *stubClient) WaitForReceipt(context.Context, common.Hash, time.Duration) (*types.Receipt, error) {
	return nil, web3.ErrReceiptTimeout
}
func (s *stubClient) LatestBlockTimestamp(context.Context) (uint64, error) { return 0, nil }
func (s *stubClient) Close()                                               { s.closed = true }

func stubDialer(dialed *[]string) Dialer {
	return func(_ context.Context, cfg ethereum.Config) (web3.ChainClient, error) {
		if cfg.RPCURL == "http://broken" {
			return nil, errors.New("dial refused")
		}
		*dialed = append(*dialed, cfg.Name)
		return &stubClient{name: cfg.Name}, nil
	}
}

func TestRegistryFallsBackToSingleRPC(t *testing.T) {
	cfg := config.Default()
	var dialed []string

	reg, err := newRegistry(context.Background(), cfg, stubDialer(&dialed))
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{"monad-testnet"}, dialed)
	assert.Equal(t, "monad-testnet", reg.DefaultName())
	client, err := reg.DefaultClient()
	require.NoError(t, err)
	assert.NotNil(t, client)

	dep := reg.DefaultDeployment()
	assert.EqualValues(t, 10143, dep.ChainID)
	require.Len(t, dep.Routers, 3)
	assert.Equal(t, "universal", dep.Routers[0].Kind)
	assert.Equal(t, cfg.Router.Quoter, dep.Quoter)
}

func TestRegistryLoadsChainsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: local
chains:
  local:
    chain_id: 31337
    rpc_url: http://127.0.0.1:8545
    routers:
      - address: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
        kind: swap_router
  backup:
    rpc_url: http://127.0.0.1:9545
`), 0o600))

	cfg := config.Default()
	cfg.Chain.ChainsFile = path
	var dialed []string

	reg, err := newRegistry(context.Background(), cfg, stubDialer(&dialed))
	require.NoError(t, err)

	assert.Equal(t, []string{"backup", "local"}, reg.Chains())
	assert.Equal(t, "local", reg.DefaultName())
	dep := reg.DefaultDeployment()
	assert.EqualValues(t, 31337, dep.ChainID)
	require.Len(t, dep.Routers, 1)
	assert.Equal(t, "swap_router", dep.Routers[0].Kind)
	assert.Equal(t, cfg.Router.Factories, dep.Factories)

	backup, ok := reg.Client("backup")
	require.True(t, ok)
	reg.Close()
	assert.True(t, backup.(*stubClient).closed)
	assert.Empty(t, reg.Chains())
}

func TestRegistryDialFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.RPCURL = "http://broken"
	var dialed []string

	_, err := newRegistry(context.Background(), cfg, stubDialer(&dialed))
	assert.Error(t, err)
}
