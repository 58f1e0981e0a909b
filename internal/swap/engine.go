// Package swap drives a swap request through validation, balance checks,
// calldata construction, gas estimation, signing, broadcast and
// confirmation. Every stage either yields the artifact the next stage needs
// or returns one terminal error; nothing is retried here.
package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/router"
	"MonadSwap-Engine/internal/web3"
	"MonadSwap-Engine/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

// Stage names the last lifecycle state reached.
type Stage string

const (
	StageValidated      Stage = "validated"
	StageBalanceChecked Stage = "balance_checked"
	StageCalldataBuilt  Stage = "calldata_built"
	StageGasEstimated   Stage = "gas_estimated"
	StageSigned         Stage = "signed"
	StageBroadcast      Stage = "broadcast"
	StageConfirmed      Stage = "confirmed"
	StageReverted       Stage = "reverted"
	StageFailed         Stage = "failed"
)

// Notes recorded on degraded paths.
const (
	NoteDiscoveryDegraded = "discovery_degraded"
	NoteGasFallback       = "gas_estimate_fallback"
	NoteQuoteUnavailable  = "quote_unavailable"
)

// LogEntry is a receipt log rendered for JSON output.
type LogEntry struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Outcome is everything the engine learned while executing one request. It is
// returned alongside terminal errors so a broadcast hash is never lost.
type Outcome struct {
	Stage             Stage               `json:"stage"`
	Status            string              `json:"status"`
	Wallet            string              `json:"wallet_address"`
	Token             string              `json:"token_address"`
	Direction         calldata.Direction  `json:"trade_type"`
	Router            string              `json:"router,omitempty"`
	RouterKind        calldata.RouterKind `json:"router_kind,omitempty"`
	FeeTier           uint32              `json:"fee_tier,omitempty"`
	AmountIn          string              `json:"amount_in,omitempty"`
	AmountOutMinimum  string              `json:"amount_out_minimum,omitempty"`
	ApprovalTxHash    string              `json:"approval_tx_hash,omitempty"`
	GasLimit          uint64              `json:"gas_limit,omitempty"`
	GasFallback       bool                `json:"gas_fallback"`
	GasPrice          string              `json:"gas_price,omitempty"`
	Nonce             uint64              `json:"nonce"`
	TxHash            string              `json:"tx_hash,omitempty"`
	BlockNumber       uint64              `json:"block_number,omitempty"`
	GasUsed           uint64              `json:"gas_used,omitempty"`
	EffectiveGasPrice string              `json:"effective_gas_price,omitempty"`
	Logs              []LogEntry          `json:"logs,omitempty"`
	RevertReason      string              `json:"revert_reason,omitempty"`
	Notes             []string            `json:"notes,omitempty"`
}

func (o *Outcome) note(n string) {
	for _, existing := range o.Notes {
		if existing == n {
			return
		}
	}
	o.Notes = append(o.Notes, n)
}

// Resolver is the part of the router registry the engine uses.
type Resolver interface {
	Resolve(ctx context.Context, token common.Address) (router.Info, error)
	WrappedNative(ctx context.Context, router common.Address) common.Address
}

// Observer is notified after every Execute call.
type Observer interface {
	ObserveSwap(outcome *Outcome, err error, elapsed time.Duration)
}

// Settings carry chain constants and gas/timeout policy.
type Settings struct {
	ChainID           *big.Int
	Quoter            common.Address
	NativePlaceholder common.Address
	// BuyGasLimit and SellGasLimit bound the estimation call only.
	BuyGasLimit       uint64
	SellGasLimit      uint64
	ApproveGasLimit   uint64
	FallbackGasLimit  uint64
	ReceiptTimeout    time.Duration
	ApprovalTimeout   time.Duration
}

func (s *Settings) applyDefaults() {
	if s.ApproveGasLimit == 0 {
		s.ApproveGasLimit = 100000
	}
	if s.FallbackGasLimit == 0 {
		s.FallbackGasLimit = 500000
	}
	if s.ReceiptTimeout <= 0 {
		s.ReceiptTimeout = 300 * time.Second
	}
	if s.ApprovalTimeout <= 0 {
		s.ApprovalTimeout = 120 * time.Second
	}
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAuditLogger overrides the audit logger.
func WithAuditLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.audit = l
		}
	}
}

// WithObserver registers an observer for finished executions.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Engine is the transaction lifecycle orchestrator.
type Engine struct {
	chain     web3.ChainClient
	routes    Resolver
	settings  Settings
	logger    *slog.Logger
	audit     *slog.Logger
	observers []Observer
	locks     walletLocks
}

// NewEngine wires the engine to a chain client and a router resolver.
func NewEngine(chain web3.ChainClient, routes Resolver, settings Settings, opts ...Option) *Engine {
	settings.applyDefaults()
	e := &Engine{
		chain:    chain,
		routes:   routes,
		settings: settings,
		logger:   logger.Named("swap"),
		audit:    logger.Audit(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req to a terminal state using key to sign. The outcome is
// non-nil whenever validation passed, including on error.
func (e *Engine) Execute(ctx context.Context, key *ecdsa.PrivateKey, req Request) (*Outcome, error) {
	start := time.Now()
	outcome, err := e.execute(ctx, key, req)
	if outcome != nil {
		switch {
		case err == nil:
			outcome.Status = "success"
		case outcome.Stage == StageReverted:
			outcome.Status = "reverted"
		default:
			outcome.Status = "failed"
		}
	}
	for _, o := range e.observers {
		o.ObserveSwap(outcome, err, time.Since(start))
	}
	return outcome, err
}

func (e *Engine) execute(ctx context.Context, key *ecdsa.PrivateKey, req Request) (*Outcome, error) {
	if key == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "private key is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	wallet := crypto.PubkeyToAddress(key.PublicKey)
	if req.Wallet != "" && common.HexToAddress(req.Wallet) != wallet {
		return nil, xerrors.New(xerrors.CodeValidation, "wallet_address does not match the signing key")
	}
	token := req.TokenAddress()
	out := &Outcome{
		Stage:     StageValidated,
		Wallet:    wallet.Hex(),
		Token:     token.Hex(),
		Direction: req.Direction,
	}
	log := e.logger.With(
		slog.String("wallet", out.Wallet),
		slog.String("token", out.Token),
		slog.String("direction", string(req.Direction)),
	)

	// BalanceChecked
	amountIn, bal, err := e.requiredBalance(ctx, wallet, token, req.Direction, req.Amount)
	if err != nil {
		return out, stageErr(err, StageBalanceChecked)
	}
	if bal.Raw.Cmp(amountIn) < 0 {
		return out, insufficient(req.Direction, bal, req.Amount)
	}
	out.Stage = StageBalanceChecked
	out.AmountIn = amountIn.String()

	// CalldataBuilt
	info, err := e.routes.Resolve(ctx, token)
	if err != nil {
		return out, stageErr(err, StageCalldataBuilt)
	}
	out.Router = info.Address.Hex()
	out.RouterKind = info.Kind
	out.FeeTier = info.FeeTier
	if info.Degraded {
		out.note(NoteDiscoveryDegraded)
		log.Warn("routing degraded to configured defaults", slog.String("router", out.Router))
	}

	latest, err := e.chain.LatestBlockTimestamp(ctx)
	if err != nil {
		return out, stageErr(xerrors.Wrap(xerrors.CodeChainUnavailable, err, "read latest block"), StageCalldataBuilt)
	}
	deadline := calldata.Deadline(latest)
	wrapped := e.routes.WrappedNative(ctx, info.Address)

	minOut := e.minimumOut(ctx, log, out, req, token, wrapped, info.FeeTier, amountIn)
	out.AmountOutMinimum = minOut.String()

	if req.Direction == calldata.Sell {
		if err := e.ensureAllowance(ctx, log, key, wallet, token, info.Address, amountIn, out); err != nil {
			return out, err
		}
	}

	data, value, err := e.buildCall(info, req.Direction, token, wrapped, wallet, amountIn, minOut, deadline)
	if err != nil {
		return out, stageErr(err, StageCalldataBuilt)
	}
	out.Stage = StageCalldataBuilt

	// GasEstimated, Signed, Broadcast
	hash, err := e.send(ctx, log, key, wallet, info.Address, value, data, e.estimateCap(req.Direction), true, out)
	if err != nil {
		return out, err
	}

	// Confirmed | Reverted | Failed
	receipt, err := e.chain.WaitForReceipt(ctx, hash, e.settings.ReceiptTimeout)
	if err != nil {
		return out, e.confirmationErr(err, hash)
	}
	out.BlockNumber = receipt.BlockNumber.Uint64()
	out.GasUsed = receipt.GasUsed
	if receipt.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Stage = StageReverted
		out.RevertReason = e.diagnose(ctx, wallet, info.Address, value, data, receipt.BlockNumber)
		e.audit.Warn("swap reverted",
			slog.String("tx_hash", out.TxHash),
			slog.String("wallet", out.Wallet),
			slog.Uint64("block", out.BlockNumber),
			slog.String("reason", out.RevertReason),
		)
		return out, xerrors.New(xerrors.CodeReverted, "transaction reverted: "+out.RevertReason,
			xerrors.WithMetadata("tx_hash", out.TxHash),
			xerrors.WithMetadata("revert_reason", out.RevertReason),
		)
	}

	out.Stage = StageConfirmed
	out.Logs = renderLogs(receipt.Logs)
	e.audit.Info("swap confirmed",
		slog.String("tx_hash", out.TxHash),
		slog.String("wallet", out.Wallet),
		slog.String("token", out.Token),
		slog.String("direction", string(out.Direction)),
		slog.Uint64("block", out.BlockNumber),
		slog.Uint64("gas_used", out.GasUsed),
	)
	return out, nil
}

func stageErr(err error, stage Stage) error {
	if e, ok := xerrors.From(err); ok {
		if e.Metadata()["stage"] == "" {
			return xerrors.Wrap(e.Code(), err, e.Message(), xerrors.WithMetadata("stage", string(stage)))
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "interrupted", xerrors.WithMetadata("stage", string(stage)))
	}
	return xerrors.Wrap(xerrors.CodeUnknown, err, "swap failed", xerrors.WithMetadata("stage", string(stage)))
}

func (e *Engine) estimateCap(direction calldata.Direction) uint64 {
	if direction == calldata.Buy {
		return e.settings.BuyGasLimit
	}
	return e.settings.SellGasLimit
}

// minimumOut asks the quoter for the expected output and applies slippage.
// Any failure yields zero and records a note.
func (e *Engine) minimumOut(ctx context.Context, log *slog.Logger, out *Outcome, req Request, token, wrapped common.Address, fee uint32, amountIn *big.Int) *big.Int {
	if e.settings.Quoter == (common.Address{}) || wrapped == (common.Address{}) {
		out.note(NoteQuoteUnavailable)
		log.Warn("no quote available, amountOutMinimum is 0")
		return new(big.Int)
	}
	tokenIn, tokenOut := wrapped, token
	if req.Direction == calldata.Sell {
		tokenIn, tokenOut = token, wrapped
	}
	data, err := calldata.PackQuoteExactInputSingle(tokenIn, tokenOut, fee, amountIn)
	if err != nil {
		out.note(NoteQuoteUnavailable)
		return new(big.Int)
	}
	quoter := e.settings.Quoter
	raw, err := e.chain.CallContract(ctx, gethcore.CallMsg{To: &quoter, Data: data}, nil)
	if err != nil {
		out.note(NoteQuoteUnavailable)
		log.Warn("quote failed, amountOutMinimum is 0", slog.Any("error", err))
		return new(big.Int)
	}
	quote, err := calldata.UnpackQuote(raw)
	if err != nil {
		out.note(NoteQuoteUnavailable)
		log.Warn("quote undecodable, amountOutMinimum is 0", slog.Any("error", err))
		return new(big.Int)
	}
	return MinimumOut(quote, req.Slippage)
}

// buildCall produces router calldata and the native value to attach.
func (e *Engine) buildCall(info router.Info, direction calldata.Direction, token, wrapped, wallet common.Address, amountIn, minOut, deadline *big.Int) ([]byte, *big.Int, error) {
	value := new(big.Int)
	if direction == calldata.Buy {
		value = new(big.Int).Set(amountIn)
	}

	if info.Kind == calldata.KindUniversal || info.Kind == "" {
		cmd, inputs, err := calldata.EncodePathSwap(direction, common.Address{}.Hex(), token.Hex(), amountIn, wallet.Hex())
		if err != nil {
			return nil, nil, err
		}
		data, err := calldata.PackExecute([]byte{cmd}, inputs, deadline)
		return data, value, err
	}

	native := wrapped
	if native == (common.Address{}) {
		native = e.settings.NativePlaceholder
	}
	if direction == calldata.Buy {
		params, err := calldata.EncodeSingleHop(native.Hex(), token.Hex(), info.FeeTier, wallet.Hex(), amountIn, minOut, deadline.Uint64())
		if err != nil {
			return nil, nil, err
		}
		data, err := calldata.PackExactInputSingle(info.Kind, params)
		return data, value, err
	}

	// Sell: the router receives the wrapped native and unwraps it to the wallet.
	params, err := calldata.EncodeSingleHop(token.Hex(), native.Hex(), info.FeeTier, info.Address.Hex(), amountIn, minOut, deadline.Uint64())
	if err != nil {
		return nil, nil, err
	}
	swapData, err := calldata.PackExactInputSingle(info.Kind, params)
	if err != nil {
		return nil, nil, err
	}
	unwrapData, err := calldata.PackUnwrapWETH9(minOut, wallet)
	if err != nil {
		return nil, nil, err
	}
	data, err := calldata.PackMulticall(info.Kind, deadline, [][]byte{swapData, unwrapData})
	return data, value, err
}

// ensureAllowance approves 2× amount when the router allowance is short and
// blocks until the approval is mined.
func (e *Engine) ensureAllowance(ctx context.Context, log *slog.Logger, key *ecdsa.PrivateKey, wallet, token, spender common.Address, amountIn *big.Int, out *Outcome) error {
	current, err := e.allowance(ctx, token, wallet, spender)
	if err != nil {
		return stageErr(err, StageCalldataBuilt)
	}
	if current.Cmp(amountIn) >= 0 {
		return nil
	}

	approveAmount := new(big.Int).Mul(amountIn, big.NewInt(2))
	data, err := calldata.PackApprove(spender, approveAmount)
	if err != nil {
		return stageErr(err, StageCalldataBuilt)
	}
	log.Info("allowance below amount, approving", slog.String("allowance", current.String()), slog.String("approve", approveAmount.String()))

	approval := &Outcome{}
	hash, err := e.send(ctx, log, key, wallet, token, new(big.Int), data, e.settings.ApproveGasLimit, false, approval)
	if err != nil {
		return withStage(err, "approval")
	}
	out.ApprovalTxHash = hash.Hex()

	receipt, err := e.chain.WaitForReceipt(ctx, hash, e.settings.ApprovalTimeout)
	if err != nil {
		return withStage(e.confirmationErr(err, hash), "approval")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := e.diagnose(ctx, wallet, token, new(big.Int), data, receipt.BlockNumber)
		return xerrors.New(xerrors.CodeReverted, "approval reverted: "+reason,
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("revert_reason", reason),
			xerrors.WithMetadata("stage", "approval"),
		)
	}
	e.audit.Info("approval confirmed", slog.String("tx_hash", hash.Hex()), slog.String("wallet", wallet.Hex()), slog.String("token", token.Hex()))
	return nil
}

func withStage(err error, stage string) error {
	if e, ok := xerrors.From(err); ok {
		opts := []xerrors.Option{xerrors.WithMetadata("stage", stage)}
		for k, v := range e.Metadata() {
			if k != "stage" {
				opts = append(opts, xerrors.WithMetadata(k, v))
			}
		}
		return xerrors.Wrap(e.Code(), err, e.Message(), opts...)
	}
	return err
}

// send estimates gas under the gasLimit cap (or uses gasLimit directly when
// estimate is false), signs and broadcasts. The wallet lock covers nonce read through broadcast.
func (e *Engine) send(ctx context.Context, log *slog.Logger, key *ecdsa.PrivateKey, wallet, to common.Address, value *big.Int, data []byte, gasLimit uint64, estimate bool, out *Outcome) (common.Hash, error) {
	unlock := e.locks.lock(wallet)
	defer unlock()

	nonce, err := e.chain.PendingNonceAt(ctx, wallet)
	if err != nil {
		return common.Hash{}, stageErr(xerrors.Wrap(xerrors.CodeChainUnavailable, err, "read nonce"), StageGasEstimated)
	}
	gasPrice, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, stageErr(xerrors.Wrap(xerrors.CodeChainUnavailable, err, "read gas price"), StageGasEstimated)
	}

	gas := gasLimit
	if estimate {
		estimated, err := e.chain.EstimateGas(ctx, gethcore.CallMsg{From: wallet, To: &to, Gas: gasLimit, GasPrice: gasPrice, Value: value, Data: data})
		if err != nil {
			gas = e.settings.FallbackGasLimit
			out.GasFallback = true
			out.note(NoteGasFallback)
			log.Warn("gas estimation failed, using fallback limit", slog.Uint64("gas", gas), slog.Any("error", err))
		} else {
			gas = estimated
		}
	}
	out.GasLimit = gas
	out.GasPrice = gasPrice.String()
	out.Nonce = nonce
	out.Stage = StageGasEstimated

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	_, raw, err := web3.SignTransaction(tx, e.settings.ChainID, key)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeSigning, err, "sign transaction", xerrors.WithMetadata("stage", string(StageSigned)))
	}
	out.Stage = StageSigned

	hash, err := e.chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeBroadcast, err, "send raw transaction", xerrors.WithMetadata("stage", string(StageBroadcast)))
	}
	out.TxHash = hash.Hex()
	out.Stage = StageBroadcast
	e.audit.Info("transaction broadcast",
		slog.String("tx_hash", out.TxHash),
		slog.String("wallet", wallet.Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.Bool("gas_fallback", out.GasFallback),
	)
	return hash, nil
}

func (e *Engine) confirmationErr(err error, hash common.Hash) error {
	msg := "receipt not observed in time, re-query " + hash.Hex()
	if !errors.Is(err, web3.ErrReceiptTimeout) {
		msg = "confirmation interrupted, re-query " + hash.Hex()
	}
	e.audit.Warn("confirmation timeout", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
	return xerrors.Wrap(xerrors.CodeConfirmationTimeout, err, msg,
		xerrors.WithMetadata("tx_hash", hash.Hex()),
		xerrors.WithMetadata("stage", string(StageBroadcast)),
	)
}

// diagnose replays the call read-only at the receipt block to recover a
// revert reason. It never resends the transaction.
func (e *Engine) diagnose(ctx context.Context, from, to common.Address, value *big.Int, data []byte, block *big.Int) string {
	_, err := e.chain.CallContract(ctx, gethcore.CallMsg{From: from, To: &to, Value: value, Data: data}, block)
	if err == nil {
		return "unknown"
	}
	return revertReason(err)
}

func revertReason(err error) string {
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		if payload, ok := dataErr.ErrorData().(string); ok {
			if raw, derr := hexutil.Decode(payload); derr == nil {
				if reason, uerr := abi.UnpackRevert(raw); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func renderLogs(logs []*types.Log) []LogEntry {
	entries := make([]LogEntry, 0, len(logs))
	for _, l := range logs {
		if l == nil {
			continue
		}
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		entries = append(entries, LogEntry{
			Address: l.Address.Hex(),
			Topics:  topics,
			Data:    hexutil.Encode(l.Data),
		})
	}
	return entries
}

// ParseSlippage accepts a percentage string, defaulting to 5 when empty.
func ParseSlippage(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.NewFromInt(5), nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeValidation, err, fmt.Sprintf("invalid slippage %q", raw))
	}
	return d, nil
}
