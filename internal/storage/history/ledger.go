// Package history 记录每一次兑换执行的结果，支持本地 JSON 文件、MySQL 与 PostgreSQL。
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"MonadSwap-Engine/internal/config"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/pkg/logger"

	"github.com/google/uuid"
)

// Record 表示一条兑换流水。
type Record struct {
	ID             string `json:"record_id"`
	Wallet         string `json:"wallet_address"`
	Token          string `json:"token_address"`
	Direction      string `json:"trade_type"`
	AmountIn       string `json:"amount_in"`
	Status         string `json:"status"`
	Stage          string `json:"stage"`
	Router         string `json:"router,omitempty"`
	RouterKind     string `json:"router_kind,omitempty"`
	FeeTier        uint32 `json:"fee_tier,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	ApprovalTxHash string `json:"approval_tx_hash,omitempty"`
	BlockNumber    uint64 `json:"block_number,omitempty"`
	GasUsed        uint64 `json:"gas_used,omitempty"`
	GasLimit       uint64 `json:"gas_limit,omitempty"`
	GasFallback    bool   `json:"gas_fallback"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
	CreatedAt      int64  `json:"created_at"`
}

// Query 描述流水查询条件。
type Query struct {
	Wallet string
	Limit  int
}

const (
	defaultQueryLimit = 20
	maxQueryLimit     = 500
)

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	q.Wallet = strings.TrimSpace(q.Wallet)
	return q
}

// Ledger 抽象流水的持久化接口。
type Ledger interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, query Query) ([]Record, error)
	Close() error
}

// Open 根据配置选择存储驱动。
func Open(ctx context.Context, cfg config.HistoryConfig, dataDir string) (Ledger, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryLedger(dataDir)
	case DialectMySQL:
		return NewSQLLedger(ctx, DialectMySQL, cfg)
	case DialectPostgres:
		return NewSQLLedger(ctx, DialectPostgres, cfg)
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("unsupported history driver %q", cfg.Driver))
	}
}

// FromOutcome 把引擎结果转换为流水记录。
func FromOutcome(outcome *swap.Outcome, err error, elapsed time.Duration, at time.Time) Record {
	rec := Record{
		ID:         uuid.NewString(),
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  at.UnixMilli(),
	}
	if outcome != nil {
		rec.Wallet = outcome.Wallet
		rec.Token = outcome.Token
		rec.Direction = string(outcome.Direction)
		rec.AmountIn = outcome.AmountIn
		rec.Status = outcome.Status
		rec.Stage = string(outcome.Stage)
		rec.Router = outcome.Router
		rec.RouterKind = string(outcome.RouterKind)
		rec.FeeTier = outcome.FeeTier
		rec.TxHash = outcome.TxHash
		rec.ApprovalTxHash = outcome.ApprovalTxHash
		rec.BlockNumber = outcome.BlockNumber
		rec.GasUsed = outcome.GasUsed
		rec.GasLimit = outcome.GasLimit
		rec.GasFallback = outcome.GasFallback
	}
	if err != nil {
		rec.ErrorCode = string(xerrors.CodeOf(err))
		rec.ErrorMessage = err.Error()
		if rec.TxHash == "" {
			rec.TxHash = xerrors.MetadataOf(err, "tx_hash")
		}
	}
	return rec
}

// Recorder 以 swap.Observer 的身份把每次执行写入账本。
type Recorder struct {
	ledger  Ledger
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewRecorder 创建流水记录观察者。
func NewRecorder(ledger Ledger) *Recorder {
	return &Recorder{
		ledger:  ledger,
		timeout: 5 * time.Second,
		now:     time.Now,
		logger:  logger.Named("history"),
	}
}

// ObserveSwap 实现 swap.Observer。未通过校验的请求没有结果，不入账。
func (r *Recorder) ObserveSwap(outcome *swap.Outcome, err error, elapsed time.Duration) {
	if r == nil || r.ledger == nil || outcome == nil {
		return
	}
	rec := FromOutcome(outcome, err, elapsed, r.now())
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if serr := r.ledger.Save(ctx, rec); serr != nil {
		r.logger.Error("写入兑换流水失败",
			slog.String("record_id", rec.ID),
			slog.String("tx_hash", rec.TxHash),
			slog.Any("error", serr))
	}
}

var _ swap.Observer = (*Recorder)(nil)
