package web3

import (
	"context"
	"errors"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptTimeout is returned by WaitForReceipt when no receipt was observed
// within the requested bound. The transaction may still be mined later.
var ErrReceiptTimeout = errors.New("receipt not observed before timeout")

// ChainClient is the read/write surface the swap engine needs from an EVM
// node. Amounts are base-unit integers.
type ChainClient interface {
	IsConnected(ctx context.Context) bool
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	// CallContract executes a read-only call. A nil block means latest.
	CallContract(ctx context.Context, msg gethcore.CallMsg, block *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
	LatestBlockTimestamp(ctx context.Context) (uint64, error)
	Close()
}

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	Name      string `json:"name"`
	ChainID   string `json:"chain_id"`
	Connected bool   `json:"connected"`
	Notes     string `json:"notes,omitempty"`
}
