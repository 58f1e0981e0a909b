package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"MonadSwap-Engine/internal/calldata"
	"MonadSwap-Engine/internal/config"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"
)

const walletA = "0x1111111111111111111111111111111111111111"

func TestMemoryLedgerPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ledger, err := NewMemoryLedger(dir)
	if err != nil {
		t.Fatalf("创建本地账本失败: %v", err)
	}

	ctx := context.Background()
	for i, wallet := range []string{walletA, "0x2222222222222222222222222222222222222222", walletA} {
		rec := Record{ID: string(rune('a' + i)), Wallet: wallet, Status: "success", CreatedAt: int64(i)}
		if err := ledger.Save(ctx, rec); err != nil {
			t.Fatalf("写入流水失败: %v", err)
		}
	}

	reopened, err := NewMemoryLedger(dir)
	if err != nil {
		t.Fatalf("重新打开账本失败: %v", err)
	}
	all, err := reopened.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("查询流水失败: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("流水顺序不符合预期: %+v", all)
	}

	mine, err := reopened.Recent(ctx, Query{Wallet: "0x1111111111111111111111111111111111111111", Limit: 1})
	if err != nil {
		t.Fatalf("按钱包查询失败: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "c" {
		t.Fatalf("按钱包过滤结果不符合预期: %+v", mine)
	}
}

func TestFromOutcomeKeepsTxHashOfFailures(t *testing.T) {
	t.Parallel()

	outcome := &swap.Outcome{
		Stage:     swap.StageBroadcast,
		Status:    "failed",
		Wallet:    walletA,
		Direction: calldata.Sell,
		AmountIn:  "1000",
		GasLimit:  500000,
	}
	err := xerrors.New(xerrors.CodeConfirmationTimeout, "receipt timeout", xerrors.WithMetadata("tx_hash", "0xdead"))
	at := time.UnixMilli(1_700_000_000_000)

	rec := FromOutcome(outcome, err, 1500*time.Millisecond, at)
	if rec.TxHash != "0xdead" {
		t.Fatalf("失败记录应保留交易哈希, got %q", rec.TxHash)
	}
	if rec.ErrorCode != string(xerrors.CodeConfirmationTimeout) || rec.Direction != "sell" {
		t.Fatalf("记录字段不符合预期: %+v", rec)
	}
	if rec.DurationMS != 1500 || rec.CreatedAt != 1_700_000_000_000 || rec.ID == "" {
		t.Fatalf("时间字段不符合预期: %+v", rec)
	}
}

type stubLedger struct {
	saved []Record
	err   error
}

func (s *stubLedger) Save(_ context.Context, r Record) error {
	s.saved = append(s.saved, r)
	return s.err
}
func (s *stubLedger) Recent(context.Context, Query) ([]Record, error) { return s.saved, nil }
func (s *stubLedger) Close() error                                    { return nil }

func TestRecorderSkipsRequestsWithoutOutcome(t *testing.T) {
	t.Parallel()

	ledger := &stubLedger{err: errors.New("disk full")}
	rec := NewRecorder(ledger)

	rec.ObserveSwap(nil, xerrors.New(xerrors.CodeValidation, "bad"), time.Millisecond)
	rec.ObserveSwap(&swap.Outcome{Status: "success", TxHash: "0x01"}, nil, time.Millisecond)

	if len(ledger.saved) != 1 || ledger.saved[0].TxHash != "0x01" {
		t.Fatalf("只应记录有结果的执行: %+v", ledger.saved)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := Open(ctx, config.HistoryConfig{Driver: "sqlite"}, t.TempDir()); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("未知驱动应返回初始化错误, got %v", err)
	}
	if _, err := Open(ctx, config.HistoryConfig{Driver: "mysql"}, ""); err == nil {
		t.Fatalf("缺少 DSN 时应失败")
	}
	if _, err := Open(ctx, config.HistoryConfig{Driver: "mysql", DSN: "invalid-dsn"}, ""); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("非法 DSN 应返回初始化错误, got %v", err)
	}
	ledger, err := Open(ctx, config.HistoryConfig{Driver: "memory"}, t.TempDir())
	if err != nil {
		t.Fatalf("memory 驱动应可用: %v", err)
	}
	_ = ledger.Close()
}

func TestRebindPostgresPlaceholders(t *testing.T) {
	t.Parallel()

	pg := &SQLLedger{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ? LIMIT ?"); got != "a = $1 AND b = $2 LIMIT $3" {
		t.Fatalf("占位符转换错误: %s", got)
	}
	my := &SQLLedger{dialect: DialectMySQL}
	if got := my.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("MySQL 不应改写占位符: %s", got)
	}
}
