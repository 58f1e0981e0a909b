package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"MonadSwap-Engine/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const defaultReceiptPoll = time.Second

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	Notes       string
	ReceiptPoll time.Duration
}

// Backend is the subset of go-ethereum client methods the adapter relies on.
// Both *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// Client implements web3.ChainClient for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	backend     Backend
	receiptPoll time.Duration
	chainID     *big.Int
	mu          sync.Mutex
}

var _ web3.ChainClient = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		rpcClient:   rpcClient,
		eth:         eth,
		backend:     eth,
		receiptPoll: pollOrDefault(cfg.ReceiptPoll),
	}, nil
}

// NewSimulatedClient wraps an in-process backend, typically the client of an
// ethclient/simulated backend, for testing purposes.
func NewSimulatedClient(name string, backend Backend) *Client {
	return &Client{
		name:        name,
		notes:       "simulated backend",
		backend:     backend,
		receiptPoll: 20 * time.Millisecond,
	}
}

func pollOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultReceiptPoll
	}
	return d
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

func (c *Client) reader() (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

// IsConnected reports whether the node answers a chain id request.
func (c *Client) IsConnected(ctx context.Context) bool {
	backend, err := c.reader()
	if err != nil {
		return false
	}
	_, err = backend.ChainID(ctx)
	return err == nil
}

// ChainID returns the chain id, caching it after the first successful read.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	code, err := backend.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("读取合约代码失败: %w", err)
	}
	return code, nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CallContract returns the raw output. Revert errors are passed through
// unwrapped so callers can extract the revert payload.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg, block *big.Int) ([]byte, error) {
	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	return backend.CallContract(ctx, msg, block)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	price, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 gas 价格失败: %w", err)
	}
	return price, nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	backend, err := c.reader()
	if err != nil {
		return 0, err
	}
	nonce, err := backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	backend, err := c.reader()
	if err != nil {
		return 0, err
	}
	return backend.EstimateGas(ctx, msg)
}

// SendRawTransaction decodes the signed payload and submits it.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	backend, err := c.reader()
	if err != nil {
		return common.Hash{}, err
	}
	var tx coretypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("解析签名交易失败: %w", err)
	}
	if err := backend.SendTransaction(ctx, &tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitForReceipt polls for a receipt until timeout elapses. It returns
// web3.ErrReceiptTimeout when the bound is hit.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*coretypes.Receipt, error) {
	backend, err := c.reader()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		// NotFound and transient RPC errors keep polling until the bound.
		if receipt, err := backend.TransactionReceipt(ctx, hash); err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s after %s", web3.ErrReceiptTimeout, hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) LatestBlockTimestamp(ctx context.Context) (uint64, error) {
	backend, err := c.reader()
	if err != nil {
		return 0, err
	}
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块失败: %w", err)
	}
	return header.Time, nil
}

// Snapshot gathers lightweight metadata for health reporting.
func (c *Client) Snapshot(ctx context.Context) web3.ChainSnapshot {
	snapshot := web3.ChainSnapshot{Name: c.name, Notes: c.notes}
	id, err := c.ChainID(ctx)
	if err != nil {
		return snapshot
	}
	snapshot.ChainID = id.String()
	snapshot.Connected = true
	return snapshot
}
